// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package recipe

import (
	"fmt"
	"strings"

	"netprov/pkg/netprov"
)

// Render renders an instruction back to its source form, quoting each
// parameter the way the original instruction string representation
// does. It round-trips through Parse for every instruction kind except
// OPAQUE.
func Render(inst *netprov.Instruction) string {
	var params []string
	switch inst.Kind {
	case netprov.KindDeploy:
		source := inst.Image
		if inst.ImageVolume != "" {
			source = source + ":" + inst.ImageVolume
		}
		params = []string{source, inst.Volume}
	case netprov.KindCopy, netprov.KindUnpack:
		params = []string{inst.Image, fmt.Sprintf("%s:%s", inst.Volume, inst.Path)}
	case netprov.KindPull:
		params = []string{inst.Image}
	case netprov.KindFormat:
		params = []string{inst.Volume, inst.FSType}
	default:
		return inst.Raw
	}

	quoted := make([]string, len(params))
	for i, p := range params {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf("%s %s", inst.Kind, strings.Join(quoted, " "))
}
