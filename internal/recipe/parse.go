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

// Package recipe parses a recipe document into an ordered list of
// instructions. A recipe is a plain-text file, one instruction per
// non-blank, non-comment line: an instruction word followed by
// whitespace-separated, optionally double-quoted arguments. The literal
// token "TO" may appear anywhere in the argument list purely for
// readability and is discarded before the instruction is built.
package recipe

import (
	"fmt"
	"strings"

	"netprov/pkg/netprov"
)

// Recipe is a parsed, ordered sequence of instructions.
type Recipe struct {
	Instructions []*netprov.Instruction
}

// Parse parses source into a Recipe. A line-numbered error is returned
// for the first malformed instruction; parsing does not continue past
// the first error, matching the original client's build-fails-fast
// behavior once an instruction won't construct.
func Parse(source string) (*Recipe, error) {
	var instructions []*netprov.Instruction
	for i, rawLine := range strings.Split(source, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		word, rest := line, ""
		if sep := strings.IndexAny(line, " \t"); sep >= 0 {
			word, rest = line[:sep], line[sep+1:]
		}
		kind := netprov.InstructionKind(strings.ToUpper(word))
		params := parseArguments(rest)

		inst, err := compileInstruction(kind, params)
		if err != nil {
			return nil, fmt.Errorf("recipe: line %d: %w", lineNo, err)
		}
		inst.Line = lineNo
		instructions = append(instructions, inst)
	}
	return &Recipe{Instructions: instructions}, nil
}

// parseArguments tokenizes an instruction's argument string on
// whitespace, treating double-quoted spans as single tokens, and drops
// any bare "TO" token.
func parseArguments(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, c := range s {
		switch {
		case (c == ' ' || c == '\t') && !inQuote:
			flush()
		case c == '"':
			inQuote = !inQuote
		default:
			current.WriteRune(c)
		}
	}
	flush()

	args := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "TO" {
			continue
		}
		args = append(args, tok)
	}
	return args
}

func compileInstruction(kind netprov.InstructionKind, params []string) (*netprov.Instruction, error) {
	switch kind {
	case netprov.KindDeploy:
		return compileDeploy(params)
	case netprov.KindCopy:
		return compileCopy(params)
	case netprov.KindUnpack:
		return compileUnpack(params)
	case netprov.KindPull:
		return compilePull(params)
	case netprov.KindFormat:
		return compileFormat(params)
	default:
		return &netprov.Instruction{Kind: netprov.KindOpaque, Raw: string(kind)}, nil
	}
}

func compileDeploy(params []string) (*netprov.Instruction, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("invalid DEPLOY instruction signature: %d params, expected 2", len(params))
	}
	source := strings.TrimSpace(params[0])
	volume := strings.TrimSpace(params[1])
	if source == "" {
		return nil, fmt.Errorf("invalid source image definition")
	}
	if volume == "" {
		return nil, fmt.Errorf("invalid target volume definition")
	}

	image, imageVolume, _ := strings.Cut(source, ":")
	return &netprov.Instruction{
		Kind:        netprov.KindDeploy,
		Image:       image,
		ImageVolume: imageVolume,
		Volume:      volume,
	}, nil
}

func compileCopy(params []string) (*netprov.Instruction, error) {
	inst, err := compilePathTargeted(params, "copy")
	if err != nil {
		return nil, err
	}
	inst.Kind = netprov.KindCopy
	return inst, nil
}

func compileUnpack(params []string) (*netprov.Instruction, error) {
	inst, err := compilePathTargeted(params, "unpack")
	if err != nil {
		return nil, err
	}
	inst.Kind = netprov.KindUnpack
	return inst, nil
}

// compilePathTargeted implements the shared COPY/UNPACK grammar: an
// image name, then a "volume[:path]" target where a missing or empty
// path defaults to "/".
func compilePathTargeted(params []string, verb string) (*netprov.Instruction, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("invalid %s instruction signature: %d params, expected 2", verb, len(params))
	}
	image := strings.TrimSpace(params[0])
	if image == "" {
		return nil, fmt.Errorf("invalid source image definition")
	}

	target := strings.SplitN(params[1], ":", 3)
	var volume, targetPath string
	switch len(target) {
	case 1:
		volume = target[0]
		targetPath = "/"
	case 2:
		volume = target[0]
		targetPath = strings.TrimSpace(target[1])
		if targetPath == "" {
			targetPath = "/"
		}
	default:
		return nil, fmt.Errorf("invalid destination path definition: %q", params[1])
	}

	volume = strings.TrimSpace(volume)
	if volume == "" {
		return nil, fmt.Errorf("invalid target volume definition")
	}

	return &netprov.Instruction{Image: image, Volume: volume, Path: targetPath}, nil
}

func compilePull(params []string) (*netprov.Instruction, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("invalid PULL instruction signature: %d params, expected 1", len(params))
	}
	image := strings.TrimSpace(params[0])
	if image == "" {
		return nil, fmt.Errorf("invalid source image definition")
	}
	return &netprov.Instruction{Kind: netprov.KindPull, Image: image}, nil
}

func compileFormat(params []string) (*netprov.Instruction, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("invalid FORMAT instruction signature: %d params, expected 2", len(params))
	}
	volume := strings.TrimSpace(params[0])
	fstype := strings.TrimSpace(params[1])
	if volume == "" {
		return nil, fmt.Errorf("invalid target volume definition")
	}
	if fstype == "" {
		return nil, fmt.Errorf("invalid filesystem type definition")
	}
	return &netprov.Instruction{Kind: netprov.KindFormat, Volume: volume, FSType: fstype}, nil
}

// RequiredImages returns the distinct image names referenced anywhere
// in the recipe, in first-use order.
func (r *Recipe) RequiredImages() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range r.Instructions {
		if inst.Image == "" || seen[inst.Image] {
			continue
		}
		seen[inst.Image] = true
		out = append(out, inst.Image)
	}
	return out
}

// RequiredVolumes returns the distinct volume names referenced anywhere
// in the recipe, in first-use order.
func (r *Recipe) RequiredVolumes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range r.Instructions {
		if inst.Volume == "" || seen[inst.Volume] {
			continue
		}
		seen[inst.Volume] = true
		out = append(out, inst.Volume)
	}
	return out
}
