package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 占位符定界符
const (
	OpenDelim  = "{{"
	CloseDelim = "}}"
)

// Scan 按出现顺序返回字符串中的占位符键，可能包含重复
// 花括号内的首尾空白会被去掉，空键和未闭合的 {{ 视为普通文本
func Scan(s string) []string {
	var keys []string
	for {
		start := strings.Index(s, OpenDelim)
		if start < 0 {
			return keys
		}
		rest := s[start+len(OpenDelim):]
		end := strings.Index(rest, CloseDelim)
		if end < 0 {
			return keys
		}
		if key := strings.TrimSpace(rest[:end]); key != "" {
			keys = append(keys, key)
		}
		s = rest[end+len(CloseDelim):]
	}
}

// Lookup 根据占位符键查找已经格式化好的替换文本
type Lookup func(key string) (string, bool)

// Render 替换字符串中的所有占位符
// 查不到的键替换为空字符串
func Render(s string, lookup Lookup) string {
	if !strings.Contains(s, OpenDelim) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, OpenDelim)
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		rest := s[start+len(OpenDelim):]
		end := strings.Index(rest, CloseDelim)
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		key := strings.TrimSpace(rest[:end])
		if key == "" {
			b.WriteString(s[start : start+len(OpenDelim)+end+len(CloseDelim)])
		} else if v, ok := lookup(key); ok {
			b.WriteString(v)
		}
		s = rest[end+len(CloseDelim):]
	}
}

// Escaper 字符串值嵌入模板前的转义策略
type Escaper func(string) string

// NoEscape 原样输出
func NoEscape(s string) string { return s }

// ControlEscaper 把换行等控制字符转成两字符的字面形式，使值能安全嵌入 JSON 等结构化模板
func ControlEscaper(s string) string {
	if strings.IndexFunc(s, isControl) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if isControl(r) {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

// EscaperByName 按配置名称返回转义策略，未知名称使用 ControlEscaper
func EscaperByName(name string) Escaper {
	switch strings.ToLower(name) {
	case "none", "raw":
		return NoEscape
	default:
		return ControlEscaper
	}
}

// FormatValue 把调用方传入的参数值格式化成替换文本
// 字符串经过 esc 转义，对象和数组输出紧凑 JSON，nil 输出空串
func FormatValue(v any, esc Escaper) string {
	if esc == nil {
		esc = ControlEscaper
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return esc(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
