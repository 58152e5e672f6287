/*
Copyright © 2018 the uwnet authors.
This file is part of uwnet.

uwnet is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

uwnet is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with uwnet.  If not, see <http://www.gnu.org/licenses/>.
*/

package samcase

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Parameters holds the groups of a SAM parameter namelist, each mapping
// parameter names to values.
type Parameters map[string]map[string]interface{}

// Group returns the named group, creating it if necessary.
func (p Parameters) Group(name string) map[string]interface{} {
	g, ok := p[name]
	if !ok {
		g = make(map[string]interface{})
		p[name] = g
	}
	return g
}

// Update sets the given values in the named group.
func (p Parameters) Update(group string, values map[string]interface{}) {
	g := p.Group(group)
	for k, v := range values {
		g[k] = v
	}
}

// namelistGroups are the groups written to the prm file. Other groups
// configure the Python side of a run.
var namelistGroups = map[string]bool{
	"parameters":   true,
	"python":       true,
	"sgs_tke":      true,
	"microphysics": true,
	"uwoptions":    true,
}

// WriteNamelist writes the namelist groups of p to w in Fortran namelist
// format. Groups and parameters are sorted by name.
func (p Parameters) WriteNamelist(w io.Writer) error {
	groups := make([]string, 0, len(p))
	for g := range p {
		if namelistGroups[g] {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	var b bytes.Buffer
	for _, g := range groups {
		fmt.Fprintf(&b, "&%s\n", g)
		keys := make([]string, 0, len(p[g]))
		for k := range p[g] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := namelistValue(p[g][k])
			if err != nil {
				return fmt.Errorf("samcase: parameter %s in group %s: %v", k, g, err)
			}
			fmt.Fprintf(&b, " %s = %s,\n", k, v)
		}
		b.WriteString("/\n\n")
	}
	_, err := w.Write(b.Bytes())
	return err
}

func namelistValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return ".true.", nil
		}
		return ".false.", nil
	case string:
		return "'" + strings.Replace(t, "'", "''", -1) + "'", nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		// JSON numbers decode as float64; whole numbers are written
		// as integers so integer parameters stay valid.
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			s, err := namelistValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ", "), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
