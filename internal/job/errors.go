package job

import "errors"

// ErrDuplicateJob is returned at construction when another process on
// this node is already running the same job name (spec.md §4.D).
var ErrDuplicateJob = errors.New("job: duplicate process for this job name")
