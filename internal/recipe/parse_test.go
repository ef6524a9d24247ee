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
	"strings"
	"testing"

	"netprov/pkg/netprov"
)

func TestParseDeploy(t *testing.T) {
	r, err := Parse(`DEPLOY "base-image.img" TO "root"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Instructions) != 1 {
		t.Fatalf("got %d instructions", len(r.Instructions))
	}
	inst := r.Instructions[0]
	if inst.Kind != netprov.KindDeploy || inst.Image != "base-image.img" || inst.Volume != "root" {
		t.Fatalf("got %+v", inst)
	}
}

func TestParseDeployWithImageVolumeSelector(t *testing.T) {
	r, err := Parse(`DEPLOY multi.img:part2 TO root`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	inst := r.Instructions[0]
	if inst.Image != "multi.img" || inst.ImageVolume != "part2" {
		t.Fatalf("got %+v", inst)
	}
}

func TestParseCopyDefaultsPathToRoot(t *testing.T) {
	r, err := Parse(`COPY settings.conf TO data`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	inst := r.Instructions[0]
	if inst.Path != "/" || inst.Volume != "data" {
		t.Fatalf("got %+v", inst)
	}
}

func TestParseCopyWithExplicitPath(t *testing.T) {
	r, err := Parse(`COPY settings.conf TO data:/etc/settings.conf`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	inst := r.Instructions[0]
	if inst.Path != "/etc/settings.conf" {
		t.Fatalf("got path %q", inst.Path)
	}
}

func TestParsePull(t *testing.T) {
	r, err := Parse(`PULL base-image.img`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Instructions[0].Image != "base-image.img" {
		t.Fatalf("got %+v", r.Instructions[0])
	}
}

func TestParseFormat(t *testing.T) {
	r, err := Parse(`FORMAT data ext4`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	inst := r.Instructions[0]
	if inst.Volume != "data" || inst.FSType != "ext4" {
		t.Fatalf("got %+v", inst)
	}
}

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	r, err := Parse("\n# a comment\nPULL a.img\n\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Instructions) != 1 {
		t.Fatalf("got %d instructions", len(r.Instructions))
	}
}

func TestParseDeployWrongArgCount(t *testing.T) {
	if _, err := Parse(`DEPLOY onlyone`); err == nil {
		t.Fatalf("expected error for wrong arg count")
	}
}

func TestParseOpaqueInstructionUnknownKind(t *testing.T) {
	r, err := Parse(`REBOOT`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Instructions[0].Kind != netprov.KindOpaque {
		t.Fatalf("got kind %v", r.Instructions[0].Kind)
	}
}

func TestParseLineNumbers(t *testing.T) {
	r, err := Parse("PULL a.img\nPULL b.img\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Instructions[0].Line != 1 || r.Instructions[1].Line != 2 {
		t.Fatalf("got lines %d, %d", r.Instructions[0].Line, r.Instructions[1].Line)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	src := `FORMAT "data" "ext4"`
	r, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rendered := Render(r.Instructions[0])
	if !strings.HasPrefix(rendered, "FORMAT") {
		t.Fatalf("got %q", rendered)
	}
	r2, err := Parse(rendered)
	if err != nil {
		t.Fatalf("re-Parse rendered instruction: %v", err)
	}
	if r2.Instructions[0].FSType != "ext4" {
		t.Fatalf("got %+v", r2.Instructions[0])
	}
}

func TestRequiredImagesAndVolumes(t *testing.T) {
	r, err := Parse("DEPLOY a.img TO root\nCOPY b.img TO data\nPULL a.img\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := r.RequiredImages()
	if len(images) != 2 || images[0] != "a.img" || images[1] != "b.img" {
		t.Fatalf("got %v", images)
	}
	volumes := r.RequiredVolumes()
	if len(volumes) != 2 || volumes[0] != "root" || volumes[1] != "data" {
		t.Fatalf("got %v", volumes)
	}
}
