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

// Command uwnet is a command-line interface for training machine-learned
// parameterizations and running them in the System for Atmospheric Modeling.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/uwnet/uwnetutil"
)

func main() {
	if err := uwnetutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
