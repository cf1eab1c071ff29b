package allocator

import "github.com/JakeFAU/newscorpus/internal/harvest"

// SplitState is the terminal state of one split.
type SplitState string

// Split states.
const (
	StateSatisfied SplitState = "satisfied"
	StateExhausted SplitState = "exhausted"
)

// SplitReport tracks one split of one category.
type SplitReport struct {
	Quota int
	// Filled counts items persisted for the split, including Existing ones.
	Filled int
	// Existing counts items found on disk before the run.
	Existing int
	// LastIndex is the highest index written or found occupied. Numbering
	// continues after it, so it can exceed Filled when the output has gaps.
	LastIndex int
	State     SplitState
}

// Missing is how many items the split still lacks.
func (s SplitReport) Missing() int {
	if s.Filled >= s.Quota {
		return 0
	}
	return s.Quota - s.Filled
}

// CategoryReport summarizes the allocation of one category.
type CategoryReport struct {
	Category   harvest.Category
	Train      SplitReport
	Test       SplitReport
	Candidates int
	Attempted  int
	Accepted   int
	Failures   map[harvest.FailureReason]int
}

func newCategoryReport(category harvest.Category, quota harvest.Quota) CategoryReport {
	return CategoryReport{
		Category: category,
		Train:    SplitReport{Quota: quota.Train},
		Test:     SplitReport{Quota: quota.Test},
		Failures: make(map[harvest.FailureReason]int),
	}
}

func (r *CategoryReport) split(split harvest.Split) *SplitReport {
	if split == harvest.SplitTest {
		return &r.Test
	}
	return &r.Train
}

func (r *CategoryReport) remaining() int {
	return r.Train.Missing() + r.Test.Missing()
}

// next picks the split of the next accepted item: train until full, then
// test.
func (r *CategoryReport) next() (harvest.Split, bool) {
	if r.Train.Filled < r.Train.Quota {
		return harvest.SplitTrain, true
	}
	if r.Test.Filled < r.Test.Quota {
		return harvest.SplitTest, true
	}
	return "", false
}

func (r *CategoryReport) finish() {
	for _, sr := range []*SplitReport{&r.Train, &r.Test} {
		if sr.Missing() == 0 {
			sr.State = StateSatisfied
		} else {
			sr.State = StateExhausted
		}
	}
}

// Shortfall reports whether any split ended below its quota.
func (r CategoryReport) Shortfall() bool {
	return r.Train.State == StateExhausted || r.Test.State == StateExhausted
}

// Failed sums failures over every reason.
func (r CategoryReport) Failed() int {
	total := 0
	for _, n := range r.Failures {
		total += n
	}
	return total
}

// Report aggregates the categories of one crawl.
type Report struct {
	Categories []CategoryReport
}

// Shortfall reports whether any category missed a quota.
func (r Report) Shortfall() bool {
	for _, c := range r.Categories {
		if c.Shortfall() {
			return true
		}
	}
	return false
}

// Accepted sums accepted items over every category.
func (r Report) Accepted() int {
	total := 0
	for _, c := range r.Categories {
		total += c.Accepted
	}
	return total
}
