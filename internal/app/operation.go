package app

import "github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/database"

// BuildOperation tracks one deploy in the build history. It is created
// in memory with ID=0 and gets its row id once the build starts.
type BuildOperation struct {
	ID             int64
	ApplicationUID string
	Platform       string
	Status         string
	Err            error
}

// NewBuildOperation creates an in-memory operation for applicationUID.
func NewBuildOperation(applicationUID, platform string) *BuildOperation {
	return &BuildOperation{
		ApplicationUID: applicationUID,
		Platform:       platform,
		Status:         database.StatusStarted,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *BuildOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation failed with err.
func (op *BuildOperation) Fail(err error) {
	op.Status = database.StatusFailed
	op.Err = err
}

// Succeed marks the operation finished.
func (op *BuildOperation) Succeed() {
	op.Status = database.StatusFinished
	op.Err = nil
}

// ErrorText is the recorded error message, empty on success.
func (op *BuildOperation) ErrorText() string {
	if op.Err == nil {
		return ""
	}
	return op.Err.Error()
}
