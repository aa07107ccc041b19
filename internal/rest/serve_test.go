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

package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/synth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	NewRouter().ServeHTTP(w, req)
	return w
}

// Runs the test inside a fresh working directory, as file access is restricted to it
func inTempDir(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func writeNoisyImage(t *testing.T, fileName string, pattern string, width, height int) {
	img, err := synth.NewPattern(pattern, width, height, [3]float32{1000, 1000, 1000})
	if err != nil {
		t.Fatal(err)
	}
	synth.AddNoise(img, [3]float32{1, 1, 1}, [3]float32{3, 3, 3}, 9)
	if err := img.WriteFile(fileName, 0, 1000); err != nil {
		t.Fatal(err)
	}
}

func TestPing(t *testing.T) {
	w := request(t, "GET", "/api/v1/ping", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestTiling(t *testing.T) {
	w := request(t, "POST", "/api/v1/tiling", `{"radius":2,"scale":1,"iscale":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Overlap int     `json:"overlap"`
		Factor  float32 `json:"factor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Overlap != 2+7 || res.Factor != 3.5 {
		t.Errorf("got %+v", res)
	}

	// smaller working scale shrinks both radii
	w = request(t, "POST", "/api/v1/tiling", `{"radius":2,"scale":0.5,"iscale":1}`)
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Overlap != 1+4 {
		t.Errorf("scaled overlap %d; want 5", res.Overlap)
	}

	for _, body := range []string{`{"scale":0}`, `{"iscale":-1}`, `{"radius":-3}`, `not json`} {
		if w := request(t, "POST", "/api/v1/tiling", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d", body, w.Code)
		}
	}
}

func TestDenoise(t *testing.T) {
	inTempDir(t)
	writeNoisyImage(t, "in.fits", synth.PatternDisc, 48, 40)

	body := `{"filePatterns":["in.fits"],
		"denoise":{"type":"denoiseProfile","active":true,"a":[1,1,1],"b":[3,3,3]},
		"save":{"type":"save","active":true,"filePattern":"out%d.fits"}}`
	w := request(t, "POST", "/api/v1/denoise", body)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Done.") {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %s", ct)
	}
	out, err := buffer.NewImageFromFile("out0.fits", 0, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 48 || out.Height != 40 {
		t.Errorf("output is %s", out.DimensionsToString())
	}
}

func TestDenoiseRejectsPathsOutsideTree(t *testing.T) {
	inTempDir(t)
	w := request(t, "POST", "/api/v1/denoise", `{"filePatterns":["/etc/*.conf"]}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "error:") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
	if w := request(t, "POST", "/api/v1/denoise", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty request: got %d", w.Code)
	}
}

func TestDenoiseRejectsProfilesOutsideTree(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "profiles.json")
	profiles := `{"noiseprofiles":[{"name":"acme x100 iso 100","maker":"Acme","model":"X100","iso":100,"a":[1,1,1],"b":[0,0,0]}]}`
	if err := ioutil.WriteFile(outside, []byte(profiles), 0644); err != nil {
		t.Fatal(err)
	}
	inTempDir(t)
	writeNoisyImage(t, "in.fits", synth.PatternDisc, 32, 24)

	for _, profilesFile := range []string{outside, "/etc/passwd", "../profiles.json"} {
		body := `{"filePatterns":["in.fits"],
			"denoise":{"type":"denoiseProfile","active":true,"profilesFile":` + strconv.Quote(profilesFile) + `,
				"maker":"Acme","model":"X100","iso":100},
			"save":{"type":"save","active":true,"filePattern":"out%d.fits"}}`
		w := request(t, "POST", "/api/v1/denoise", body)
		log := w.Body.String()
		if w.Code != http.StatusOK || !strings.Contains(log, "error:") || !strings.Contains(log, "outside current directory tree") {
			t.Errorf("%s: got %d %s", profilesFile, w.Code, log)
		}
		if strings.Contains(log, "invalid character") || strings.Contains(log, "ISO 100 profile") {
			t.Errorf("%s: profiles file was read: %s", profilesFile, log)
		}
		if _, err := os.Stat("out0.fits"); !os.IsNotExist(err) {
			t.Errorf("%s: output written despite rejected profiles file", profilesFile)
		}
	}
}

func TestFit(t *testing.T) {
	inTempDir(t)
	writeNoisyImage(t, "flat.fits", synth.PatternGradient, 256, 128)

	w := request(t, "POST", "/api/v1/fit", `{"fileName":"flat.fits"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Model struct {
			A [3]float32 `json:"a"`
		} `json:"model"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Model.A[1] < 0.5 || res.Model.A[1] > 2 {
		t.Errorf("fitted gain %g; want about 1", res.Model.A[1])
	}

	tcs := []struct {
		body string
		code int
	}{
		{`{}`, http.StatusBadRequest},
		{`{"fileName":"../flat.fits"}`, http.StatusForbidden},
		{`{"fileName":"missing.fits"}`, http.StatusNotFound},
	}
	for _, tc := range tcs {
		if w := request(t, "POST", "/api/v1/fit", tc.body); w.Code != tc.code {
			t.Errorf("%s: got %d; want %d", tc.body, w.Code, tc.code)
		}
	}
}
