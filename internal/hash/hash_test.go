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

package hash

import (
	"math"
	"testing"
)

type config struct {
	Inputs    []string
	LossScale map[string]float64
	Hidden    *[]int
}

func TestHash(t *testing.T) {
	h1, h2 := []int{256}, []int{256}
	a := config{Inputs: []string{"QT", "SLI"}, LossScale: map[string]float64{"QT": 1, "SLI": 2, "U": 3}, Hidden: &h1}
	b := config{Inputs: []string{"QT", "SLI"}, LossScale: map[string]float64{"U": 3, "SLI": 2, "QT": 1}, Hidden: &h2}
	if Hash(a) != Hash(b) {
		t.Errorf("equal configurations have different hashes")
	}
	if len(Hash(a)) != 32 {
		t.Errorf("hash %s has length %d", Hash(a), len(Hash(a)))
	}
	b.LossScale["QT"] = 1.5
	if Hash(a) == Hash(b) {
		t.Errorf("different configurations have the same hash")
	}
	if Hash(math.NaN()) != Hash(math.NaN()) {
		t.Errorf("NaN hashes differ")
	}
}
