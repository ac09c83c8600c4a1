// Package payload 从原始响应中按路径表达式提取有效数据
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// PathError 路径无法在响应上解析：键不存在、下标越界或值不可索引
// 教学阶段调用方把它当作校验错误，执行阶段退回原始响应
type PathError struct {
	Path   string
	At     string // 出错的路径前缀
	Reason string
}

func (e *PathError) Error() string {
	if e.At == "" {
		return fmt.Sprintf("payload path %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("payload path %q at %s: %s", e.Path, e.At, e.Reason)
}

// segment 路径的一段：对象键或数组下标
type segment struct {
	key     string
	index   int
	isIndex bool
}

func (s segment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return "." + s.key
}

// Extract 按路径提取响应中的子值
// path 为空时原样返回 raw；否则 path 必须以 $ 开头，支持 .key、[n]、['key'] 三种写法
func Extract(raw []byte, path string) (json.RawMessage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return raw, nil
	}
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, &PathError{Path: path, Reason: "response is not valid JSON"}
	}

	current := gjson.ParseBytes(raw)
	at := "$"
	for _, seg := range segments {
		at += seg.String()
		if seg.isIndex {
			if !current.IsArray() {
				return nil, &PathError{Path: path, At: at, Reason: "value is not an array"}
			}
			items := current.Array()
			if seg.index < 0 || seg.index >= len(items) {
				return nil, &PathError{Path: path, At: at, Reason: fmt.Sprintf("index out of range (len %d)", len(items))}
			}
			current = items[seg.index]
			continue
		}
		if !current.IsObject() {
			return nil, &PathError{Path: path, At: at, Reason: "value is not an object"}
		}
		next := current.Get(escapeKey(seg.key))
		if !next.Exists() {
			return nil, &PathError{Path: path, At: at, Reason: "key not found"}
		}
		current = next
	}
	return json.RawMessage(current.Raw), nil
}

// Decode 把提取结果解码为 Go 值，数字保持 json.Number
func Decode(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidatePath 只检查路径语法
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	_, err := parsePath(strings.TrimSpace(path))
	return err
}

// parsePath 解析 $.a.b[1]['c d'] 形式的路径
func parsePath(path string) ([]segment, error) {
	if !strings.HasPrefix(path, "$") {
		return nil, &PathError{Path: path, Reason: "path must start with $"}
	}
	var segs []segment
	rest := path[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			key := rest[:end]
			if key == "" {
				return nil, &PathError{Path: path, Reason: "empty key"}
			}
			segs = append(segs, segment{key: key})
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, &PathError{Path: path, Reason: "unterminated ["}
			}
			inner := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, &PathError{Path: path, Reason: fmt.Sprintf("invalid index %q", inner)}
			}
			segs = append(segs, segment{index: n, isIndex: true})
		default:
			return nil, &PathError{Path: path, Reason: fmt.Sprintf("unexpected character %q", rest[0])}
		}
	}
	return segs, nil
}

// escapeKey 转义 gjson 路径中的特殊字符，使对象键按字面匹配
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
