// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package noise

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var ErrNoProfile = errors.New("no matching noise profile")

// A measured noise profile for one camera at one ISO setting
type Profile struct {
	Name  string     `json:"name"`
	Maker string     `json:"maker"`
	Model string     `json:"model"`
	ISO   float32    `json:"iso"`
	A     [3]float32 `json:"a"`
	B     [3]float32 `json:"b"`
}

func (p *Profile) NoiseModel() Model {
	return Model{A: p.A, B: p.B}
}

// A collection of noise profiles
type Database struct {
	Profiles []Profile `json:"noiseprofiles"`
}

// Decodes a profile database from JSON. Profiles with invalid coefficients are rejected
func LoadDatabase(r io.Reader) (*Database, error) {
	db := &Database{}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(db); err != nil {
		return nil, err
	}
	for i := range db.Profiles {
		p := &db.Profiles[i]
		if err := p.NoiseModel().Validate(); err != nil {
			return nil, errors.New(fmt.Sprintf("profile %d '%s': %s", i, p.Name, err.Error()))
		}
	}
	return db, nil
}

// Loads a profile database from a JSON file
func LoadDatabaseFile(fileName string) (*Database, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDatabase(f)
}

// Returns all profiles for the given camera, sorted by ascending ISO. Matching ignores case and surrounding blanks
func (db *Database) ForCamera(maker, model string) []Profile {
	maker, model = normalizeName(maker), normalizeName(model)
	res := []Profile{}
	for _, p := range db.Profiles {
		if normalizeName(p.Maker) == maker && normalizeName(p.Model) == model {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ISO < res[j].ISO })
	return res
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Returns the noise model for the given camera and ISO. Interpolates linearly between the
// two profiles with closest lower and higher ISO, and uses the nearest profile outside the
// measured range. Also returns the ISO values of the profiles used.
func (db *Database) Lookup(maker, model string, iso float32) (m Model, iso1, iso2 float32, err error) {
	ps := db.ForCamera(maker, model)
	if len(ps) == 0 {
		return Model{}, 0, 0, fmt.Errorf("%w for %s %s", ErrNoProfile, maker, model)
	}
	if iso <= ps[0].ISO {
		return ps[0].NoiseModel(), ps[0].ISO, ps[0].ISO, nil
	}
	last := ps[len(ps)-1]
	if iso >= last.ISO {
		return last.NoiseModel(), last.ISO, last.ISO, nil
	}
	for i := 1; i < len(ps); i++ {
		lo, hi := ps[i-1], ps[i]
		if iso <= hi.ISO {
			if hi.ISO == lo.ISO {
				return hi.NoiseModel(), lo.ISO, hi.ISO, nil
			}
			t := (iso - lo.ISO) / (hi.ISO - lo.ISO)
			return lo.NoiseModel().Lerp(hi.NoiseModel(), t), lo.ISO, hi.ISO, nil
		}
	}
	return last.NoiseModel(), last.ISO, last.ISO, nil
}
