// Package products renders the derived image artifacts of a refined
// crystal map: phase map, inverse pole figure map with its color key,
// NCC map, and per-metric quality maps.
package products

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"

	"orientation-refiner/internal/xmap"
)

// Fixed artifact filenames inside the output directory.
const (
	PhaseMapName  = "refined_phase_map.png"
	IPFMapName    = "refined_IPF.png"
	ColorKeyName  = "orientation_colour_key.png"
	NCCMapName    = "refined_NCC.png"
	QualityAllFmt = "quality_metrics_all.png"
	QualityOneFmt = "quality_metrics_%s.png"
)

// notIndexedColor is the render color of unclaimed pixels.
var notIndexedColor = color.NRGBA{A: 255}

// PhaseMapPNG renders each pixel in its phase's display color and
// writes the result to dir. It returns the written path.
func PhaseMapPNG(m *xmap.CrystalMap, dir string) (string, error) {
	colors := map[int]color.NRGBA{}
	for _, p := range m.Phases {
		if p.ID == xmap.NotIndexed {
			continue
		}
		c, err := colorful.Hex(p.Color)
		if err != nil {
			return "", fmt.Errorf("phase %q color %q: %w", p.Name, p.Color, err)
		}
		r, g, b := c.RGB255()
		colors[p.ID] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}

	img := image.NewNRGBA(image.Rect(0, 0, m.Cols, m.Rows))
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			c, ok := colors[m.PhaseID[m.Index(row, col)]]
			if !ok {
				c = notIndexedColor
			}
			img.SetNRGBA(col, row, c)
		}
	}

	path := filepath.Join(dir, PhaseMapName)
	return path, writePNG(path, img)
}

// IPFMapPNG renders an inverse pole figure map for the given sample
// direction plus a color key legend, and returns both written paths.
// The color key follows the dominant phase's crystal system.
func IPFMapPNG(m *xmap.CrystalMap, dir string, direction [3]float64) ([]string, error) {
	norm := math.Sqrt(direction[0]*direction[0] + direction[1]*direction[1] + direction[2]*direction[2])
	if norm == 0 {
		return nil, fmt.Errorf("color key direction is zero")
	}
	ref := [3]float64{direction[0] / norm, direction[1] / norm, direction[2] / norm}

	dominant, err := dominantPhase(m)
	if err != nil {
		return nil, err
	}
	sec, err := sectorForPhase(dominant)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, m.Cols, m.Rows))
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			i := m.Index(row, col)
			if m.PhaseID[i] == xmap.NotIndexed {
				img.SetNRGBA(col, row, notIndexedColor)
				continue
			}
			// Crystal-frame direction of the sample reference axis.
			v := inverseApply(m.Rotations[i], ref)
			img.SetNRGBA(col, row, ipfColor(v, sec))
		}
	}

	mapPath := filepath.Join(dir, IPFMapName)
	if err := writePNG(mapPath, img); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(dir, ColorKeyName)
	if err := writePNG(keyPath, colorKeyImage(256, sec)); err != nil {
		return []string{mapPath}, err
	}
	return []string{mapPath, keyPath}, nil
}

// dominantPhase returns the phase claiming the most pixels. Its
// symmetry selects the color key for the whole map.
func dominantPhase(m *xmap.CrystalMap) (xmap.Phase, error) {
	counts := map[int]int{}
	for _, id := range m.PhaseID {
		if id != xmap.NotIndexed {
			counts[id]++
		}
	}

	var best xmap.Phase
	bestCount := 0
	for _, p := range m.Phases {
		if p.ID == xmap.NotIndexed {
			continue
		}
		if c := counts[p.ID]; c > bestCount {
			best = p
			bestCount = c
		}
	}
	if bestCount == 0 {
		return xmap.Phase{}, fmt.Errorf("crystal map has no indexed pixels")
	}
	return best, nil
}

// NCCMapPNG renders the primary similarity score as a grayscale map
// normalized to the map's own score range.
func NCCMapPNG(m *xmap.CrystalMap, dir string) (string, error) {
	path := filepath.Join(dir, NCCMapName)
	return path, writePNG(path, grayscaleImage(m, m.Score(xmap.PrimaryScore)))
}

// QualityMetricPNGs renders one grayscale map per stored metric plus a
// combined side-by-side panel, and returns every written path.
func QualityMetricPNGs(m *xmap.CrystalMap, dir string) ([]string, error) {
	metrics := make([]string, 0, len(m.Scores))
	for metric := range m.Scores {
		metrics = append(metrics, metric)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("crystal map has no quality metrics")
	}
	sort.Strings(metrics)

	paths := make([]string, 0, len(metrics)+1)
	panels := make([]*image.Gray, 0, len(metrics))
	for _, metric := range metrics {
		img := grayscaleImage(m, m.Scores[metric])
		panels = append(panels, img)

		path := filepath.Join(dir, fmt.Sprintf(QualityOneFmt, metric))
		if err := writePNG(path, img); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	const gap = 4
	combined := image.NewGray(image.Rect(0, 0, len(panels)*(m.Cols+gap)-gap, m.Rows))
	for p, panel := range panels {
		x0 := p * (m.Cols + gap)
		for row := 0; row < m.Rows; row++ {
			for col := 0; col < m.Cols; col++ {
				combined.SetGray(x0+col, row, panel.GrayAt(col, row))
			}
		}
	}
	allPath := filepath.Join(dir, QualityAllFmt)
	if err := writePNG(allPath, combined); err != nil {
		return paths, err
	}
	return append(paths, allPath), nil
}

// grayscaleImage maps scores to 0..255 over the map's min-max range,
// with not-indexed pixels black.
func grayscaleImage(m *xmap.CrystalMap, scores []float64) *image.Gray {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range scores {
		if m.PhaseID[i] == xmap.NotIndexed {
			continue
		}
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	span := hi - lo

	img := image.NewGray(image.Rect(0, 0, m.Cols, m.Rows))
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			i := m.Index(row, col)
			if m.PhaseID[i] == xmap.NotIndexed {
				continue
			}
			v := 1.0
			if span > 0 {
				v = (scores[i] - lo) / span
			}
			img.SetGray(col, row, color.Gray{Y: uint8(math.Round(v * 255))})
		}
	}
	return img
}

// ipfSector is one crystal system's inverse pole figure fundamental
// sector: a fold into the sector plus the barycentric coloring against
// its red, green and blue corner directions.
type ipfSector struct {
	azimuth float64 // sector opening angle in the equatorial plane
	fold    func([3]float64) [3]float64
	bary    func([3]float64) (r, g, b float64)
}

// sectorForPhase picks the fundamental sector of the phase's crystal
// system, deriving the system from the space group number when the
// phase does not name one.
func sectorForPhase(p xmap.Phase) (ipfSector, error) {
	system := strings.ToLower(strings.TrimSpace(p.CrystalSystem))
	if system == "" {
		system = crystalSystem(p.SpaceGroupNumber)
	}

	switch system {
	case "cubic":
		return cubicSector(), nil
	case "hexagonal":
		return equatorialSector(math.Pi / 6), nil
	case "trigonal":
		return equatorialSector(math.Pi / 3), nil
	case "tetragonal":
		return equatorialSector(math.Pi / 4), nil
	case "orthorhombic":
		return equatorialSector(math.Pi / 2), nil
	}
	return ipfSector{}, fmt.Errorf("phase %q: no color key for crystal system %q", p.Name, system)
}

// crystalSystem names the crystal system a space group number belongs
// to, or "" when the number is out of range.
func crystalSystem(spaceGroup int) string {
	switch {
	case spaceGroup > 230:
		return ""
	case spaceGroup >= 195:
		return "cubic"
	case spaceGroup >= 168:
		return "hexagonal"
	case spaceGroup >= 143:
		return "trigonal"
	case spaceGroup >= 75:
		return "tetragonal"
	case spaceGroup >= 16:
		return "orthorhombic"
	case spaceGroup >= 3:
		return "monoclinic"
	case spaceGroup >= 1:
		return "triclinic"
	}
	return ""
}

// cubicSector folds into the sorted positive octant, the standard
// [001]-[101]-[111] stereographic triangle.
func cubicSector() ipfSector {
	return ipfSector{
		azimuth: math.Pi / 4,
		fold: func(v [3]float64) [3]float64 {
			x := math.Abs(v[0])
			y := math.Abs(v[1])
			z := math.Abs(v[2])
			if x > y {
				x, y = y, x
			}
			if y > z {
				y, z = z, y
			}
			if x > y {
				x, y = y, x
			}
			return [3]float64{x, y, z}
		},
		bary: func(w [3]float64) (float64, float64, float64) {
			// Corners [001], [011], [111] in sorted coordinates.
			return w[2] - w[1], w[1] - w[0], w[0]
		},
	}
}

// equatorialSector covers the systems whose fundamental sector is an
// upper-hemisphere wedge: corners [001] (red), [100] (green) and the
// equatorial sector edge (blue).
func equatorialSector(azimuth float64) ipfSector {
	sin, cos := math.Sin(azimuth), math.Cos(azimuth)
	return ipfSector{
		azimuth: azimuth,
		fold: func(v [3]float64) [3]float64 {
			rxy := math.Hypot(v[0], v[1])
			period := 2 * azimuth
			phi := math.Mod(math.Atan2(v[1], v[0]), period)
			if phi < 0 {
				phi += period
			}
			if phi > azimuth {
				phi = period - phi
			}
			return [3]float64{rxy * math.Cos(phi), rxy * math.Sin(phi), math.Abs(v[2])}
		},
		bary: func(w [3]float64) (float64, float64, float64) {
			b := w[1] / sin
			return w[2], w[0] - b*cos, b
		},
	}
}

// ipfColor maps a crystal direction to the red-green-blue coloring of
// the sector's corner directions.
func ipfColor(v [3]float64, sec ipfSector) color.NRGBA {
	r, g, b := sec.bary(sec.fold(v))
	r = math.Max(r, 0)
	g = math.Max(g, 0)
	b = math.Max(b, 0)
	max := math.Max(r, math.Max(g, b))
	if max <= 0 {
		return color.NRGBA{R: 255, A: 255}
	}
	c := colorful.Color{R: r / max, G: g / max, B: b / max}.Clamped()
	cr, cg, cb := c.RGB255()
	return color.NRGBA{R: cr, G: cg, B: cb, A: 255}
}

// colorKeyImage renders the legend: the sector colors swept over a
// square gradient of inclination and azimuth.
func colorKeyImage(size int, sec ipfSector) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for py := 0; py < size; py++ {
		// theta sweeps from the [001] pole to the equator.
		theta := float64(py) / float64(size-1) * math.Pi / 2
		for px := 0; px < size; px++ {
			phi := float64(px) / float64(size-1) * sec.azimuth
			v := [3]float64{
				math.Sin(theta) * math.Cos(phi),
				math.Sin(theta) * math.Sin(phi),
				math.Cos(theta),
			}
			img.SetNRGBA(px, py, ipfColor(v, sec))
		}
	}
	return img
}

// inverseApply rotates a sample-frame vector into the crystal frame.
func inverseApply(rot xmap.Rotation, v [3]float64) [3]float64 {
	m := rot.Matrix()
	// The rotation matrix is orthonormal, so the inverse is the
	// transpose.
	return [3]float64{
		m[0][0]*v[0] + m[1][0]*v[1] + m[2][0]*v[2],
		m[0][1]*v[0] + m[1][1]*v[1] + m[2][1]*v[2],
		m[0][2]*v[0] + m[1][2]*v[1] + m[2][2]*v[2],
	}
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
