// =============================================================================
// 文件: internal/charset/charset.go
// 描述: 字符集解析与严格解码 - 非法字节序列一律视为解码失败，不做替换
// =============================================================================
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrUnknownCharset 字符集名称无法识别
	ErrUnknownCharset = errors.New("unknown charset")
	// ErrMalformedInput 字节序列对该字符集非法
	ErrMalformedInput = errors.New("malformed input for charset")
)

// Encoding 命名字符集，构造后不可变，可并发使用
type Encoding struct {
	name  string
	codec encoding.Encoding // nil 表示 UTF-8 快速路径
}

var (
	// UTF8 默认字符集
	UTF8 = Encoding{name: "UTF-8"}
	// UTF16 大端，带 BOM 探测
	UTF16 = Encoding{name: "UTF-16", codec: unicode.UTF16(unicode.BigEndian, unicode.UseBOM)}
	// UTF16BE 大端，无 BOM
	UTF16BE = Encoding{name: "UTF-16BE", codec: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}
	// UTF16LE 小端，无 BOM
	UTF16LE = Encoding{name: "UTF-16LE", codec: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
)

var builtin = map[string]Encoding{
	"utf-8":    UTF8,
	"utf8":     UTF8,
	"utf-16":   UTF16,
	"utf16":    UTF16,
	"utf-16be": UTF16BE,
	"utf-16le": UTF16LE,
}

// Lookup 按名称查找字符集（大小写不敏感）
func Lookup(name string) (Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return UTF8, nil
	}
	if enc, ok := builtin[key]; ok {
		return enc, nil
	}

	codec, err := ianaindex.IANA.Encoding(key)
	if err != nil || codec == nil {
		return Encoding{}, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	canonical, err := ianaindex.MIME.Name(codec)
	if err != nil || canonical == "" {
		if canonical, err = ianaindex.IANA.Name(codec); err != nil {
			canonical = strings.ToUpper(key)
		}
	}
	return Encoding{name: canonical, codec: codec}, nil
}

// MustLookup 同 Lookup，失败时 panic（用于测试和常量初始化）
func MustLookup(name string) Encoding {
	enc, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return enc
}

// Name 返回字符集规范名称
func (e Encoding) Name() string {
	if e.name == "" {
		return UTF8.name
	}
	return e.name
}

// Decode 严格解码
// 任何非法字节序列都返回 ErrMalformedInput，绝不返回替换字符拼出的部分文本
func (e Encoding) Decode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}

	if e.codec == nil {
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%w %s", ErrMalformedInput, e.Name())
		}
		return string(b), nil
	}

	// 解码器有状态，每次调用新建一个
	decoded, err := e.codec.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrMalformedInput, e.Name(), err)
	}

	// x/text 遇到非法序列会写入 U+FFFD；
	// 出现 U+FFFD 时回编码比对，区分真实字符与替换结果
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		reencoded, err := e.codec.NewEncoder().Bytes(decoded)
		if err != nil || !bytes.Equal(trimBOM(reencoded), trimBOM(b)) {
			return "", fmt.Errorf("%w %s", ErrMalformedInput, e.Name())
		}
	}

	return string(decoded), nil
}

// Encode 将字符串编码为该字符集的字节
func (e Encoding) Encode(s string) ([]byte, error) {
	if e.codec == nil {
		return []byte(s), nil
	}
	out, err := e.codec.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("编码失败 (%s): %w", e.Name(), err)
	}
	return out, nil
}

// String 实现 fmt.Stringer
func (e Encoding) String() string {
	return e.Name()
}

func trimBOM(b []byte) []byte {
	switch {
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return b[3:]
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}), bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		return b[2:]
	}
	return b
}
