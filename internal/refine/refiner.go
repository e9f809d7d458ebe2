package refine

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/xmap"
)

// Request carries one phase's refinement inputs across the Refiner
// seam. NavMask and SignalMask are exclusion masks: true means the
// pixel takes no part in the refinement.
type Request struct {
	Dataset     *ebsd.Dataset
	Prior       *xmap.CrystalMap
	Phase       xmap.Phase
	PhaseID     int
	Detector    ebsd.Detector
	Master      *ebsd.MasterPattern
	Energy      float64
	NavMask     []bool
	SignalMask  []bool
	TrustRegion [3]float64 // degrees around the prior orientation
	Params      MethodParams
}

// Refiner runs the numerical refinement for one phase, producing a
// partial crystal map claiming exactly the unmasked pixels.
type Refiner interface {
	Refine(ctx context.Context, req Request) (*xmap.CrystalMap, error)
}

// SimilarityScorer scores how well a candidate orientation explains
// the observed pattern at one pixel. Higher is better; the reference
// implementation computes a normalized cross-correlation against the
// master pattern projection.
type SimilarityScorer interface {
	Score(pattern []float32, rot xmap.Rotation, det ebsd.Detector, mp *ebsd.MasterPattern, signalMask []bool) float64
}

// NelderMeadRefiner refines each pixel's orientation with a bounded
// Nelder-Mead search over Euler-angle offsets inside the trust region.
type NelderMeadRefiner struct {
	scorer SimilarityScorer
}

// NewNelderMeadRefiner builds the production refiner around a scorer.
func NewNelderMeadRefiner(scorer SimilarityScorer) *NelderMeadRefiner {
	return &NelderMeadRefiner{scorer: scorer}
}

// Refine runs the per-pixel optimization restricted to the navigation
// mask and returns the phase's partial crystal map.
func (r *NelderMeadRefiner) Refine(ctx context.Context, req Request) (*xmap.CrystalMap, error) {
	if r.scorer == nil {
		return nil, fmt.Errorf("refiner has no similarity scorer")
	}
	if req.Master == nil {
		return nil, fmt.Errorf("phase %q has no master pattern", req.Phase.Name)
	}

	partial := xmap.New(req.Prior.Rows, req.Prior.Cols, []xmap.Phase{req.Phase})
	partial.StepSize = req.Prior.StepSize
	scores := partial.Score(xmap.PrimaryScore)

	bounds := [3]float64{
		req.TrustRegion[0] * math.Pi / 180,
		req.TrustRegion[1] * math.Pi / 180,
		req.TrustRegion[2] * math.Pi / 180,
	}

	for i := 0; i < req.Prior.Size(); i++ {
		if i%req.Prior.Cols == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if req.NavMask[i] {
			continue
		}

		prior := req.Prior.Rotations[i]
		pattern := req.Dataset.Pattern(i)
		objective := func(offset [3]float64) float64 {
			for d := 0; d < 3; d++ {
				if math.Abs(offset[d]) > bounds[d] {
					return math.Inf(1)
				}
			}
			rot := xmap.Rotation{
				Phi1: prior.Phi1 + offset[0],
				Phi:  prior.Phi + offset[1],
				Phi2: prior.Phi2 + offset[2],
			}
			return -r.scorer.Score(pattern, rot, req.Detector, req.Master, req.SignalMask)
		}

		best, value := nelderMead(objective, bounds, req.Params)
		partial.PhaseID[i] = req.Phase.ID
		partial.Rotations[i] = xmap.Rotation{
			Phi1: prior.Phi1 + best[0],
			Phi:  prior.Phi + best[1],
			Phi2: prior.Phi2 + best[2],
		}
		scores[i] = -value
	}
	return partial, nil
}

// nelderMead minimizes a 3-parameter objective starting from the
// origin, with the initial simplex scaled to half the trust region so
// every starting vertex sits inside the bounds. Out-of-bound candidates
// score +Inf and are rejected by the simplex updates.
func nelderMead(objective func([3]float64) float64, scale [3]float64, params MethodParams) ([3]float64, float64) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return objective([3]float64{x[0], x[1], x[2]})
		},
	}

	vertices := make([][]float64, 4)
	values := make([]float64, 4)
	vertices[0] = []float64{0, 0, 0}
	for d := 0; d < 3; d++ {
		x := []float64{0, 0, 0}
		x[d] = scale[d] / 2
		vertices[d+1] = x
	}
	for i, x := range vertices {
		values[i] = problem.Func(x)
	}

	settings := &optimize.Settings{MajorIterations: params.MaxIterations}
	if params.Tolerance > 0 {
		settings.Converger = &optimize.FunctionConverge{
			Absolute:   params.Tolerance,
			Iterations: 10,
		}
	}

	method := &optimize.NelderMead{
		InitialVertices: vertices,
		InitialValues:   values,
	}
	result, err := optimize.Minimize(problem, vertices[0], settings, method)
	if err != nil || result == nil || len(result.X) != 3 {
		// Fall back to the prior orientation.
		return [3]float64{}, objective([3]float64{})
	}
	return [3]float64{result.X[0], result.X[1], result.X[2]}, result.F
}

// NCCScorer is the reference similarity scorer: it projects the master
// pattern onto the detector for a candidate orientation and computes
// the normalized cross-correlation with the observed pattern over the
// unmasked signal pixels.
type NCCScorer struct{}

// Score implements SimilarityScorer.
func (NCCScorer) Score(pattern []float32, rot xmap.Rotation, det ebsd.Detector, mp *ebsd.MasterPattern, signalMask []bool) float64 {
	var sumO, sumS, sumOO, sumSS, sumOS float64
	count := 0

	for r := 0; r < det.Rows; r++ {
		for c := 0; c < det.Cols; c++ {
			i := r*det.Cols + c
			if signalMask != nil && signalMask[i] {
				continue
			}
			if i >= len(pattern) {
				continue
			}
			observed := float64(pattern[i])
			simulated := mp.Sample(rot.Apply(det.PixelDirection(r, c)))

			sumO += observed
			sumS += simulated
			sumOO += observed * observed
			sumSS += simulated * simulated
			sumOS += observed * simulated
			count++
		}
	}
	if count == 0 {
		return 0
	}

	fc := float64(count)
	cov := sumOS - sumO*sumS/fc
	varO := sumOO - sumO*sumO/fc
	varS := sumSS - sumS*sumS/fc
	if varO <= 0 || varS <= 0 {
		return 0
	}
	return cov / math.Sqrt(varO*varS)
}
