// Package config defines the configuration surface enumerated in the
// design: every knob a run can be tuned with, together with the defaults
// the CLI falls back to when a flag isn't passed.
package config

import "time"

const (
	DefaultParallelProcesses     = 4
	DefaultChunkSize             = 100 * 1024 * 1024
	DefaultSmallFileThreshold    = 10 * 1024 * 1024
	DefaultBundleSize            = 50 * 1024 * 1024
	DefaultRemoteTempDir         = "/sdcard/transfer_temp"
	DefaultResumeTransfer        = true
	DefaultSJFScheduling         = true
	DefaultVerifyAfterReassembly = true
	DefaultVerifySizes           = true
	DefaultAggressiveCleanup     = true
	DefaultRetryFailedChunks     = true
	DefaultMaxRetries            = 3
	DefaultReassemblyTimeout     = 1800 * time.Second
	DefaultDeleteTempFolder      = false
	DefaultUseAdbShellMode       = true
)

// Config is the full set of tunables for one transfer run. Field names
// mirror the keys of the configuration surface table; JSON tags are kept
// for callers that want to log or snapshot a Config, not for file-based
// persistence, which is out of scope.
type Config struct {
	ParallelProcesses     int           `json:"parallel_processes"`
	ChunkSize             int64         `json:"chunk_size"`
	SmallFileThreshold    int64         `json:"small_file_threshold"`
	BundleSize            int64         `json:"bundle_size"`
	RemoteTempDir         string        `json:"remote_temp_dir"`
	ResumeTransfer        bool          `json:"resume_transfer"`
	SJFScheduling         bool          `json:"sjf_scheduling"`
	VerifyAfterReassembly bool          `json:"verify_after_reassembly"`
	VerifySizes           bool          `json:"verify_sizes"`
	AggressiveTempCleanup bool          `json:"aggressive_temp_cleanup"`
	RetryFailedChunks     bool          `json:"retry_failed_chunks"`
	MaxRetries            int           `json:"max_retries"`
	ReassemblyTimeout     time.Duration `json:"reassembly_timeout"`
	DeleteTempFolder      bool          `json:"delete_temp_folder"`
	UseAdbShellMode       bool          `json:"use_adb_shell_mode"`

	// StrictReuse, when true, rehashes on-disk chunks against the
	// manifest on reuse instead of trusting the file's size, full-file MD5
	// and the on-disk chunk count alone. Resolves
	// the reuse-verification Open Question conservatively-off, matching
	// the original implementation's behavior.
	StrictReuse bool `json:"strict_reuse"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		ParallelProcesses:     DefaultParallelProcesses,
		ChunkSize:             DefaultChunkSize,
		SmallFileThreshold:    DefaultSmallFileThreshold,
		BundleSize:            DefaultBundleSize,
		RemoteTempDir:         DefaultRemoteTempDir,
		ResumeTransfer:        DefaultResumeTransfer,
		SJFScheduling:         DefaultSJFScheduling,
		VerifyAfterReassembly: DefaultVerifyAfterReassembly,
		VerifySizes:           DefaultVerifySizes,
		AggressiveTempCleanup: DefaultAggressiveCleanup,
		RetryFailedChunks:     DefaultRetryFailedChunks,
		MaxRetries:            DefaultMaxRetries,
		ReassemblyTimeout:     DefaultReassemblyTimeout,
		DeleteTempFolder:      DefaultDeleteTempFolder,
		UseAdbShellMode:       DefaultUseAdbShellMode,
	}
}
