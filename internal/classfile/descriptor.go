package classfile

import (
	"fmt"
	"strings"
)

// MethodDescriptor is a parsed method descriptor such as
// "(ILjava/lang/String;)V". Params and Return are field descriptors.
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits desc into parameter and return types.
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	var md MethodDescriptor
	if !strings.HasPrefix(desc, "(") {
		return md, fmt.Errorf("method descriptor %q does not start with '('", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldTypeLen(desc[i:])
		if err != nil {
			return md, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		md.Params = append(md.Params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return md, fmt.Errorf("method descriptor %q has no ')'", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return md, fmt.Errorf("method descriptor %q has an invalid return type", desc)
		}
	}
	md.Return = ret
	return md, nil
}

// String renders the descriptor back to its encoded form.
func (md MethodDescriptor) String() string {
	return "(" + strings.Join(md.Params, "") + ")" + md.Return
}

// ArgSlots is the number of operand stack slots taken by the parameters.
func (md MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range md.Params {
		n += TypeSlots(p)
	}
	return n
}

// TypeSlots is the operand stack size of a value of field type t.
func TypeSlots(t string) int {
	switch t {
	case "V":
		return 0
	case "J", "D":
		return 2
	}
	return 1
}

func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, fmt.Errorf("unterminated class type in %q", s)
		}
		return i + end + 1, nil
	}
	return 0, fmt.Errorf("invalid type character %q", s[i])
}

// ValidFieldDescriptor reports whether s is exactly one field type.
func ValidFieldDescriptor(s string) bool {
	n, err := fieldTypeLen(s)
	return err == nil && n == len(s)
}

// ClassNames returns the class names mentioned in a field or method
// descriptor, in order of appearance.
func ClassNames(desc string) []string {
	var names []string
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			break
		}
		names = append(names, desc[i+1:i+end])
		i += end
	}
	return names
}

// ElementClass reduces a class constant name to the class it denotes:
// array names yield their element class, primitive arrays yield "".
func ElementClass(name string) string {
	if !strings.HasPrefix(name, "[") {
		return name
	}
	t := strings.TrimLeft(name, "[")
	if strings.HasPrefix(t, "L") && strings.HasSuffix(t, ";") {
		return t[1 : len(t)-1]
	}
	return ""
}

// RenameClasses rewrites every class name in a descriptor or generic
// signature through rename. It reports whether anything changed. Type
// variables, formal type parameter names and inner class suffixes are
// copied unchanged.
func RenameClasses(s string, rename func(string) (string, bool)) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	depth := 0
	formal := strings.HasPrefix(s, "<")
	expectIdent := formal
	i := 0
	if formal {
		b.WriteByte('<')
		depth, i = 1, 1
	}
	for i < len(s) {
		c := s[i]
		switch {
		case formal && depth == 1 && c == '>':
			formal = false
			depth--
			b.WriteByte(c)
			i++
		case formal && depth == 1 && expectIdent:
			j := strings.IndexByte(s[i:], ':')
			if j < 0 {
				b.WriteString(s[i:])
				return b.String(), changed
			}
			b.WriteString(s[i : i+j])
			i += j
			expectIdent = false
		case c == 'L':
			j := strings.IndexAny(s[i+1:], ";<.")
			if j < 0 {
				b.WriteString(s[i:])
				return b.String(), changed
			}
			name := s[i+1 : i+1+j]
			if to, ok := rename(name); ok && to != name {
				name, changed = to, true
			}
			b.WriteByte('L')
			b.WriteString(name)
			i += 1 + j
		case c == '.':
			j := strings.IndexAny(s[i+1:], ";<.")
			if j < 0 {
				b.WriteString(s[i:])
				return b.String(), changed
			}
			b.WriteString(s[i : i+1+j])
			i += 1 + j
		case c == 'T':
			j := strings.IndexByte(s[i:], ';')
			if j < 0 {
				b.WriteString(s[i:])
				return b.String(), changed
			}
			b.WriteString(s[i : i+j])
			i += j
		case c == '<':
			depth++
			b.WriteByte(c)
			i++
		case c == '>':
			depth--
			b.WriteByte(c)
			i++
		case c == ';':
			b.WriteByte(c)
			i++
			if formal && depth == 1 && i < len(s) && s[i] != ':' && s[i] != '>' {
				expectIdent = true
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), changed
}

// RenameClassName maps a class constant name, including array names,
// through rename.
func RenameClassName(name string, rename func(string) (string, bool)) (string, bool) {
	if strings.HasPrefix(name, "[") {
		return RenameClasses(name, rename)
	}
	to, ok := rename(name)
	if !ok || to == name {
		return name, false
	}
	return to, true
}
