package executor

import (
	"fmt"
	"sort"
	"strings"
)

// Language is an editor language the executor accepts.
type Language string

const (
	JavaScript Language = "javascript"
	Python     Language = "python"
	Java       Language = "java"
	Cpp        Language = "cpp"
	C          Language = "c"
	Go         Language = "go"
)

// Runtime is the executor-side name and version of a language.
type Runtime struct {
	Name     string
	Version  string
	Filename string
}

var runtimes = map[Language]Runtime{
	JavaScript: {Name: "javascript", Version: "18.15.0", Filename: "main.js"},
	Python:     {Name: "python", Version: "3.10.0", Filename: "main.py"},
	Java:       {Name: "java", Version: "15.0.2", Filename: "Main.java"},
	Cpp:        {Name: "c++", Version: "10.2.0", Filename: "main.cpp"},
	C:          {Name: "c", Version: "10.2.0", Filename: "main.c"},
	Go:         {Name: "go", Version: "1.16.2", Filename: "main.go"},
}

// ParseLanguage validates s against the supported table.
func ParseLanguage(s string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := runtimes[lang]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	return lang, nil
}

// Runtime returns the executor runtime for l.
func (l Language) Runtime() Runtime {
	return runtimes[l]
}

// Languages lists supported languages in lexical order.
func Languages() []Language {
	out := make([]Language, 0, len(runtimes))
	for l := range runtimes {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
