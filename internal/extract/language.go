package extract

import (
	"path"
	"strings"
)

// LanguagePlaintext is the tag for files whose extension is not recognized.
const LanguagePlaintext = "plaintext"

var languageByExtension = map[string]string{
	".ts":         "typescript",
	".tsx":        "typescript",
	".js":         "javascript",
	".jsx":        "javascript",
	".mjs":        "javascript",
	".cjs":        "javascript",
	".py":         "python",
	".go":         "go",
	".rs":         "rust",
	".java":       "java",
	".rb":         "ruby",
	".php":        "php",
	".c":          "c",
	".h":          "c",
	".cpp":        "cpp",
	".cc":         "cpp",
	".cxx":        "cpp",
	".hpp":        "cpp",
	".cs":         "csharp",
	".swift":      "swift",
	".kt":         "kotlin",
	".html":       "html",
	".htm":        "html",
	".css":        "css",
	".scss":       "scss",
	".json":       "json",
	".md":         "markdown",
	".markdown":   "markdown",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".sql":        "sql",
	".sh":         "bash",
	".bash":       "bash",
	".dockerfile": "dockerfile",
	".txt":        LanguagePlaintext,
}

// LanguageFor maps a slash-separated file path to its display language tag.
func LanguageFor(filePath string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filePath), "\\", "/"))
	if strings.EqualFold(base, "Dockerfile") {
		return "dockerfile"
	}
	if language, ok := languageByExtension[strings.ToLower(path.Ext(base))]; ok {
		return language
	}
	return LanguagePlaintext
}
