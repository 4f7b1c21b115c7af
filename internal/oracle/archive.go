package oracle

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/jar"
)

// FromArchive builds a surface from a host API jar. Every public class
// contributes its public and protected members, and the packages of those
// classes become the governed packages.
func FromArchive(jarPath string) (*Surface, error) {
	entries, err := jar.ReadFile(jarPath)
	if err != nil {
		return nil, fmt.Errorf("error reading host archive: %w", err)
	}

	s := &Surface{}
	packages := map[string]struct{}{}
	for _, e := range entries {
		switch {
		case e.Name() == "META-INF/MANIFEST.MF":
			if s.Version, err = manifestVersion(e.Data); err != nil {
				return nil, err
			}
		case e.IsClass():
			c, ok, err := readClass(e.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Name(), err)
			}
			if !ok {
				continue
			}
			s.Classes = append(s.Classes, c)
			packages[path.Dir(c.Name)+"/"] = struct{}{}
		}
	}
	for p := range packages {
		s.Packages = append(s.Packages, p)
	}
	sort.Strings(s.Packages)
	sort.Slice(s.Classes, func(i, j int) bool { return s.Classes[i].Name < s.Classes[j].Name })
	return s, nil
}

func readClass(data []byte) (Class, bool, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return Class{}, false, err
	}
	if cf.AccessFlags&classfile.AccPublic == 0 {
		return Class{}, false, nil
	}

	c := Class{
		Name:       cf.Name(),
		Super:      cf.SuperName(),
		Interfaces: cf.InterfaceNames(),
		Interface:  cf.IsInterface(),
	}
	visible := func(m *classfile.Member) bool {
		return m.AccessFlags&(classfile.AccPublic|classfile.AccProtected) != 0
	}
	for _, m := range cf.Fields {
		if !visible(m) {
			continue
		}
		name, desc, err := cf.MemberName(m)
		if err != nil {
			return Class{}, false, err
		}
		c.Fields = append(c.Fields, Member{Name: name, Descriptor: desc})
	}
	for _, m := range cf.Methods {
		if !visible(m) {
			continue
		}
		name, desc, err := cf.MemberName(m)
		if err != nil {
			return Class{}, false, err
		}
		c.Methods = append(c.Methods, Member{Name: name, Descriptor: desc})
	}
	return c, true, nil
}

func manifestVersion(data []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "Implementation-Version" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", sc.Err()
}
