// Package sweep turns declarative temperature blocks into concrete setpoints
// and runs one measurement pass per stabilized point.
package sweep

import (
	"math"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
)

// closeEnough mirrors a relative float comparison with ~1e-9 tolerance; it
// decides whether the generated grid already ends on the block's stop value.
func closeEnough(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-12+1e-9*scale
}

// ExpandBlock generates the ordered target temperatures for one block.
//
// Step sign is forced to match the start->stop direction; points run from
// Start toward Stop by |Step| and never cross Stop. When the grid does not
// land on Stop exactly, Stop is appended, so every block measures its declared
// stop temperature exactly once. Step == 0 yields the single point Start.
// Non-finite fields make the block invalid and yield an empty list.
func ExpandBlock(block rig.TempBlock) []float64 {
	for _, f := range []float64{block.Start, block.Stop, block.Step} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}

	if block.Step == 0 {
		return []float64{block.Start}
	}

	step := math.Abs(block.Step)
	if block.Start > block.Stop {
		step = -step
	}

	var points []float64
	for i := 0; ; i++ {
		pt := block.Start + float64(i)*step
		if (step > 0 && pt >= block.Stop) || (step < 0 && pt <= block.Stop) {
			break
		}
		points = append(points, pt)
	}

	if len(points) == 0 || !closeEnough(points[len(points)-1], block.Stop) {
		if (step > 0 && block.Stop >= block.Start) || (step < 0 && block.Stop <= block.Start) {
			points = append(points, block.Stop)
		}
	}
	return points
}

// Plan expands a whole sequence into the flat list of setpoints a run will
// visit, honoring the End flag. Used for run previews and logging.
func Plan(seq rig.Sequence) []float64 {
	var all []float64
	for _, block := range seq {
		all = append(all, ExpandBlock(block)...)
		if block.End {
			break
		}
	}
	return all
}
