package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedReassemblesMarkersSplitAcrossFragments(t *testing.T) {
	t.Parallel()

	x := New()
	var files []File
	for _, fragment := range []string{"---FILE: a.ts", "---\nconsole.log(1)\n---END FI", "LE---"} {
		files = append(files, filesOf(x.Feed(fragment))...)
	}

	require.Len(t, files, 1)
	assert.Equal(t, File{Path: "a.ts", Language: "typescript", Content: "console.log(1)"}, files[0])
}

func TestFeedSingleFragmentEmitsTextThenFile(t *testing.T) {
	t.Parallel()

	input := "hello ---FILE: x.md---\n# hi\n---END FILE--- world"
	events := New().Feed(input)

	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: KindText, Text: input}, events[0])
	assert.Equal(t, KindFile, events[1].Kind)
	assert.Equal(t, File{Path: "x.md", Language: "markdown", Content: "# hi"}, events[1].File)
}

func TestTextEventsAreLosslessTranscript(t *testing.T) {
	t.Parallel()

	fragments := []string{"intro ", "---FILE: a.go", "---\npackage a\n", "", "---END FILE---", " ---END FILE--- tail"}
	x := New()
	var transcript strings.Builder
	textCount := 0
	for _, fragment := range fragments {
		events := x.Feed(fragment)
		require.NotEmpty(t, events)
		require.Equal(t, KindText, events[0].Kind)
		for _, event := range events {
			if event.Kind == KindText {
				textCount++
				transcript.WriteString(event.Text)
			}
		}
	}

	assert.Equal(t, len(fragments), textCount)
	assert.Equal(t, strings.Join(fragments, ""), transcript.String())
}

func TestOutputIsIndependentOfChunking(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"Here is the project.\n",
		"---FILE: src/index.ts---\nexport const a = 1;\n---END FILE---\n",
		"Some notes ---END FILE--- in between.\n",
		"---FILE: README.md---\r\n# Title\n\nBody with --- dashes\r\n---END FILE---",
		"---FILE: styles/site.css---\nbody {}\n---END FILE---\n",
		"Done.",
	}, "")
	want := []File{
		{Path: "src/index.ts", Language: "typescript", Content: "export const a = 1;"},
		{Path: "README.md", Language: "markdown", Content: "# Title\n\nBody with --- dashes"},
		{Path: "styles/site.css", Language: "css", Content: "body {}"},
	}

	for _, size := range []int{1, 2, 3, 5, 7, 8, 13, 14, 15, 64, len(input)} {
		got := feedInChunks(input, size)
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestUnterminatedBlockIsNeverEmitted(t *testing.T) {
	t.Parallel()

	x := New()
	events := x.Feed("---FILE: partial.py---\nprint('x')\n")
	assert.Empty(t, filesOf(events))
	assert.True(t, x.InsideFile())

	open, ok := x.Close()
	require.True(t, ok)
	assert.Equal(t, "partial.py", open.Path)
	assert.Equal(t, "\nprint('x')\n", open.Content)

	_, ok = x.Close()
	assert.False(t, ok)
}

func TestCloseMarkerWhileScanningIsLiteralText(t *testing.T) {
	t.Parallel()

	x := New()
	events := x.Feed("nothing open ---END FILE--- here")
	require.Len(t, events, 1)
	assert.Equal(t, KindText, events[0].Kind)
	_, ok := x.Close()
	assert.False(t, ok)
}

func TestSecondOpeningMarkerIsContentOfOpenBlock(t *testing.T) {
	t.Parallel()

	files := feedInChunks("---FILE: outer.txt---\nline\n---FILE: inner.txt---\nmore\n---END FILE---", 4)
	require.Len(t, files, 1)
	assert.Equal(t, "outer.txt", files[0].Path)
	assert.Equal(t, "line\n---FILE: inner.txt---\nmore", files[0].Content)
}

func TestMalformedOpeningMarkersAreLiteral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []File
	}{
		{
			name:  "line break before marker tail",
			input: "---FILE: broken\n---END FILE---\n---FILE: ok.sh---\necho\n---END FILE---",
			want:  []File{{Path: "ok.sh", Language: "bash", Content: "echo"}},
		},
		{
			name:  "empty path",
			input: "---FILE:   ---\nbody\n---END FILE---",
			want:  nil,
		},
		{
			name:  "empty content block",
			input: "---FILE: empty.txt---\n---END FILE------FILE: b.json---\n{}\n---END FILE---",
			want:  []File{{Path: "b.json", Language: "json", Content: "{}"}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for _, size := range []int{1, 3, len(tc.input)} {
				assert.Equal(t, tc.want, feedInChunks(tc.input, size), "chunk size %d", size)
			}
		})
	}
}

func TestDuplicatePathsAreIndependentFiles(t *testing.T) {
	t.Parallel()

	input := "---FILE: a.js---\nv1\n---END FILE---\n---FILE: a.js---\nv2\n---END FILE---"
	files := feedInChunks(input, len(input))
	require.Len(t, files, 2)
	assert.Equal(t, "v1", files[0].Content)
	assert.Equal(t, "v2", files[1].Content)
}

func TestUndecidedSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", undecidedSuffix("plain text"))
	assert.Equal(t, "-", undecidedSuffix("abc -"))
	assert.Equal(t, "---FIL", undecidedSuffix("x ---FIL"))
	assert.Equal(t, "---FILE", undecidedSuffix("---FILE"))
	assert.Equal(t, "", undecidedSuffix("---FILX"))
}

func feedInChunks(input string, size int) []File {
	x := New()
	var files []File
	for start := 0; start < len(input); start += size {
		end := start + size
		if end > len(input) {
			end = len(input)
		}
		files = append(files, filesOf(x.Feed(input[start:end]))...)
	}
	return files
}

func filesOf(events []Event) []File {
	var files []File
	for _, event := range events {
		if event.Kind == KindFile {
			files = append(files, event.File)
		}
	}
	return files
}
