// Package dataset provides read-only, concurrency-safe access to a
// recorded BCI session: per-channel spike trains, behavior samples
// (cursor position and hand velocity) and the trial table. Datasets
// are stored as three parquet tables and loaded fully resident (mmap
// backed on linux); all queries are side-effect free.
package dataset

import "errors"

// ErrNotFound is returned when the dataset files are missing.
var ErrNotFound = errors.New("dataset not found")

// Trial is one behavioral epoch [StartTime, StopTime) with a
// designated reach target. Target positions are parallel arrays
// indexed by target number.
type Trial struct {
	TrialID      int       `json:"trial_id" parquet:"trial_id"`
	StartTime    float64   `json:"start_time" parquet:"start_time"`
	StopTime     float64   `json:"stop_time" parquet:"stop_time"`
	Success      bool      `json:"success" parquet:"success"`
	NumTargets   int       `json:"num_targets" parquet:"num_targets"`
	ActiveTarget int       `json:"active_target" parquet:"active_target"`
	TargetX      []float64 `json:"target_x" parquet:"target_x,list"`
	TargetY      []float64 `json:"target_y" parquet:"target_y,list"`
	GoCueTime    *float64  `json:"go_cue_time" parquet:"go_cue_time,optional"`
	MoveOnset    *float64  `json:"move_onset_time" parquet:"move_onset_time,optional"`
}

// TargetPosition returns the position of the trial's active target.
func (t *Trial) TargetPosition() (x, y float64, ok bool) {
	if t == nil || t.ActiveTarget < 0 || t.ActiveTarget >= len(t.TargetX) || t.ActiveTarget >= len(t.TargetY) {
		return 0, 0, false
	}
	return t.TargetX[t.ActiveTarget], t.TargetY[t.ActiveTarget], true
}

// BehaviorSlice is a window of behavior samples. The four arrays are
// parallel and may be empty at the edges of the recording.
type BehaviorSlice struct {
	VX []float64
	VY []float64
	X  []float64
	Y  []float64
}

// Dataset is the query surface the playback core depends on. All
// methods are safe for concurrent callers.
type Dataset interface {
	// Name is the dataset identifier (e.g. "mc_maze").
	Name() string
	// NumChannels is the neural unit count C.
	NumChannels() int
	// DurationSeconds is the recording length D.
	DurationSeconds() float64
	// BehaviorRate is the behavior sampling rate detected from the
	// recording (not assumed to be the stream rate).
	BehaviorRate() float64
	// NumTimesteps is the behavior sample count.
	NumTimesteps() int
	// BinnedSpikes buckets each channel's spikes with time in [t0,t1)
	// into B = max(1, floor((t1-t0)/(binMS/1000))) bins and returns a
	// [B][C] count matrix. Out-of-range windows yield all-zero bins.
	BinnedSpikes(t0, t1, binMS float64) ([][]int, error)
	// Kinematics index-slices the behavior arrays over [t0,t1).
	Kinematics(t0, t1 float64) (BehaviorSlice, error)
	// Trials returns the ordered, non-overlapping trial table.
	Trials() []Trial
	// TrialAt returns the trial containing t (half-open on the stop
	// bound), or nil.
	TrialAt(t float64) *Trial
	// TrialsForTarget returns trials whose active target is k.
	TrialsForTarget(k int) []Trial
	Close() error
}
