package router

import (
	"path/filepath"
	"regexp"

	"github.com/mirabackend/mira/internal/apperror"
)

// Symbol is one entry of an extract_symbols response.
type Symbol struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Visibility string `json:"visibility,omitempty"`
}

var (
	rustFn     = regexp.MustCompile(`^\s*(pub(?:\([^)]*\))?\s+)?fn\s+(\w+)`)
	rustStruct = regexp.MustCompile(`^\s*(pub(?:\([^)]*\))?\s+)?struct\s+(\w+)`)
	rustEnum   = regexp.MustCompile(`^\s*(pub(?:\([^)]*\))?\s+)?enum\s+(\w+)`)
	rustTrait  = regexp.MustCompile(`^\s*(pub(?:\([^)]*\))?\s+)?trait\s+(\w+)`)

	jsFunction  = regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+(\w+)`)
	jsClass     = regexp.MustCompile(`^\s*(export\s+)?class\s+(\w+)`)
	tsInterface = regexp.MustCompile(`^\s*(export\s+)?interface\s+(\w+)`)
	tsType      = regexp.MustCompile(`^\s*(export\s+)?type\s+(\w+)`)

	genericFunction = regexp.MustCompile(`^\s*(?:func|def|function)\s+(\w+)`)
)

// ExtractSymbols dispatches by file extension to a small language-specific
// regex set and returns the symbols found, in file order.
func (h *FileHandler) ExtractSymbols(projectID, path string) ([]Symbol, error) {
	full, err := resolvePath(h.baseFor(projectID), path, false)
	if err != nil {
		return nil, err
	}
	raw, readErr := readFileOrError(full)
	if readErr != nil {
		return nil, readErr
	}

	ext := filepath.Ext(path)
	lines := splitLines(raw)

	var symbols []Symbol
	switch ext {
	case ".rs":
		for _, line := range lines {
			if m := rustFn.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "function", Name: m[2], Visibility: visibility(m[1])})
			} else if m := rustStruct.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "struct", Name: m[2], Visibility: visibility(m[1])})
			} else if m := rustEnum.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "enum", Name: m[2], Visibility: visibility(m[1])})
			} else if m := rustTrait.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "trait", Name: m[2], Visibility: visibility(m[1])})
			}
		}
	case ".ts", ".tsx", ".js", ".jsx":
		for _, line := range lines {
			if m := jsFunction.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "function", Name: m[3], Visibility: exportVisibility(m[1])})
			} else if m := jsClass.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "class", Name: m[2], Visibility: exportVisibility(m[1])})
			} else if m := tsInterface.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "interface", Name: m[2], Visibility: exportVisibility(m[1])})
			} else if m := tsType.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "type", Name: m[2], Visibility: exportVisibility(m[1])})
			}
		}
	default:
		for _, line := range lines {
			if m := genericFunction.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, Symbol{Type: "function", Name: m[1]})
			}
		}
	}

	return symbols, nil
}

func visibility(prefix string) string {
	if prefix != "" {
		return "public"
	}
	return "private"
}

func exportVisibility(prefix string) string {
	if prefix != "" {
		return "exported"
	}
	return "local"
}

func readFileOrError(full string) (string, error) {
	raw, err := readFileBytes(full)
	if err != nil {
		return "", apperror.Wrap(apperror.IoError, "extract_symbols: read", err)
	}
	return raw, nil
}
