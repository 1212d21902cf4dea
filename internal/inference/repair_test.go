package inference

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := Normalize("｛“算法”：‘AES’，“模式”：［“CBC”］｝")
	want := `{"算法":'AES',"模式":["CBC"]}`
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}

	// Chinese text without JSON punctuation is left alone.
	if got := Normalize("先加密。再签名"); got != "先加密。再签名" {
		t.Errorf("Normalize() = %q", got)
	}
}

func TestExtractObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, nil},
		{"surrounding prose", "Here you go:\n```json\n{\"a\":{\"b\":2}}\n```\nDone.", `{"a":{"b":2}}`, nil},
		{"braces in strings", `x {"a":"}{","b":'{'} y`, `{"a":"}{","b":'{'}`, nil},
		{"escaped quote", `{"a":"say \"}\""} tail`, `{"a":"say \"}\""}`, nil},
		{"first of two objects", `{"a":1} {"b":2}`, `{"a":1}`, nil},
		{"unclosed", `pre {"a":{"b":1}`, `{"a":{"b":1}`, nil},
		{"no object", "I cannot analyze this code.", "", ErrNoStructureFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractObject(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExtractObject() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRepair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid json", `{"a":[1,2],"b":"x"}`, `{"a":[1,2],"b":"x"}`},
		{"single quotes", `{'a':'it"s'}`, `{"a":"it\"s"}`},
		{"escaped single quote", `{'a':'don\'t'}`, `{"a":"don't"}`},
		{"apostrophe in double quotes", `{"a":"don't"}`, `{"a":"don't"}`},
		{"trailing commas", `{"a":[1,2,],"b":1,}`, `{"a":[1,2],"b":1}`},
		{"raw newline in string", "{\"a\":\"x\ny\"}", `{"a":"x\ny"}`},
		{"missing closers", `{"a":{"b":[1,2`, `{"a":{"b":[1,2]}}`},
		{"unterminated string", `{"a":"AE`, `{"a":"AE"}`},
		{"dangling colon", `{"a":`, `{"a": null}`},
		{"dangling comma", `{"a":1,`, `{"a":1}`},
		{"array left open inside object", `{"a": [1, 2}`, `{"a": [1, 2]}`},
		{"object left open inside array", `{"a":[{"b":1]}`, `{"a":[{"b":1}]}`},
		{"open levels before outer closer", `{"a":[{"b":,}`, `{"a":[{"b": null}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Repair(tt.in)
			if got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !jsonutil.Valid([]byte(got)) {
				t.Errorf("Repair(%q) = %q is not valid JSON", tt.in, got)
			}
		})
	}
}

func TestParseContentUnbalancedObject(t *testing.T) {
	t.Parallel()

	got, err := ParseContent(`{"对称加密": {"算法":"AES"`)
	if err != nil {
		t.Fatalf("ParseContent() error = %v", err)
	}
	obj, ok := got["对称加密"].(map[string]any)
	if !ok || obj["算法"] != "AES" {
		t.Errorf("ParseContent() = %v, want 对称加密.算法 == AES", got)
	}
}

func TestParseContentMatchesCanonicalJSON(t *testing.T) {
	t.Parallel()

	canonical := `{"对称加密":{"算法":"AES","模式":"CBC"},"非对称加密":{"算法":"RSA","密钥长度":"2048","填充模式":"PKCS1"},"自定义特征":["x"]}`
	messy := "好的，结果如下：\n{“对称加密”：｛“算法”：“AES”，“模式”：'CBC'｝，" +
		"“非对称加密”：{\"算法\"：\"RSA\"，\"密钥长度\"：\"2048\"，\"填充模式\"：\"PKCS1\"}，" +
		"“自定义特征”：[“x”]"

	var want map[string]any
	if err := jsonutil.Unmarshal([]byte(canonical), &want); err != nil {
		t.Fatal(err)
	}
	got, err := ParseContent(messy)
	if err != nil {
		t.Fatalf("ParseContent() error = %v", err)
	}
	if !reflect.DeepEqual(map[string]any(got), want) {
		t.Errorf("ParseContent() = %v, want %v", got, want)
	}
}

func TestParseContentFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"no structure", "抱歉，我无法分析。", ErrNoStructureFound},
		{"unrepairable", `{"a" "b" "c"}`, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseContent(tt.content)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseContent() error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("ParseContent() = %v, want nil", got)
			}
		})
	}
}

func TestParseContentKeepsNestedTypes(t *testing.T) {
	t.Parallel()

	got, err := ParseContent(`{"动态因子":["timestamp","nonce"],"流程":"md5(ts+nonce)","轮数":3}`)
	if err != nil {
		t.Fatalf("ParseContent() error = %v", err)
	}
	want := model.InferenceResult{
		"动态因子": []any{"timestamp", "nonce"},
		"流程":   "md5(ts+nonce)",
		"轮数":   float64(3),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseContent() = %#v, want %#v", got, want)
	}
}
