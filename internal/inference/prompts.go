package inference

import (
	"fmt"
	"maps"
	"strings"
)

// Placeholder is replaced by the (truncated) code in every template.
const Placeholder = "{code}"

// DefaultSystemPrompt is sent as the system message of every request.
const DefaultSystemPrompt = "严格按JSON格式响应"

const algorithmTemplate = `请严格按以下JSON格式响应：
{
    "对称加密": {
        "算法": "",
        "模式": ""
    },
    "非对称加密": {
        "算法": "",
        "密钥长度": "",
        "填充模式": ""
    },
    "哈希算法": {
        "算法": ""
    },
    "自定义特征": []
}
代码：
` + "```javascript\n" + Placeholder + "\n```"

const keyTemplate = `你必须是严格的JSON生成器，按以下格式响应：{"动态因子":[],"流程":""}
代码：
` + "```javascript\n" + Placeholder + "\n```"

const customTemplate = `你必须是严格的JSON生成器，按以下格式响应：{"自定义函数":[],"魔改特征":[]}
代码：
` + "```javascript\n" + Placeholder + "\n```"

// Templates maps each kind to its prompt template.
type Templates map[Kind]string

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		KindAlgorithm: algorithmTemplate,
		KindKey:       keyTemplate,
		KindCustom:    customTemplate,
	}
}

// Merge returns a copy of t with every non-empty template of overrides
// applied.
func (t Templates) Merge(overrides Templates) Templates {
	merged := maps.Clone(t)
	if merged == nil {
		merged = Templates{}
	}
	for k, tmpl := range overrides {
		if strings.TrimSpace(tmpl) != "" {
			merged[k] = tmpl
		}
	}
	return merged
}

// ParseTemplates converts a name-keyed template map (as found in the config
// file) into Templates.
func ParseTemplates(raw map[string]string) (Templates, error) {
	t := make(Templates, len(raw))
	for name, tmpl := range raw {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		t[k] = tmpl
	}
	return t, nil
}

// RenderPrompt substitutes code for the placeholder in tmpl.
func RenderPrompt(tmpl, code string) (string, error) {
	if !strings.Contains(tmpl, Placeholder) {
		return "", fmt.Errorf("%w: missing %s placeholder", ErrTemplate, Placeholder)
	}
	return strings.Replace(tmpl, Placeholder, code, 1), nil
}

// truncate returns at most limit runes of code. A non-positive limit
// disables truncation.
func truncate(code string, limit int) string {
	if limit <= 0 {
		return code
	}
	n := 0
	for i := range code {
		if n == limit {
			return code[:i]
		}
		n++
	}
	return code
}
