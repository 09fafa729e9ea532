package core

// ScanError is Hydra's typed error for user-facing scan failures, so
// CLI/daemon code can format errors uniformly.
type ScanError struct {
	Code string // stable machine-readable code, e.g. "invalid_target_path"
	Msg  string
}

func (e *ScanError) Error() string {
	return e.Msg
}

var (
	ErrRootPathRequired    = &ScanError{Code: "missing_target_path", Msg: "root_path is required"}
	ErrInvalidMode         = &ScanError{Code: "invalid_mode", Msg: "mode must be \"full\" or \"diff\""}
	ErrHeadWithoutBase     = &ScanError{Code: "head_ref_requires_base_ref", Msg: "head_ref given without base_ref"}
	ErrInvalidTarget       = &ScanError{Code: "invalid_target_path", Msg: "root_path does not exist or is not a directory"}
	ErrPathNotAllowed      = &ScanError{Code: "path_not_allowed", Msg: "root_path is outside the configured allow-list"}
	ErrChangedFilesInvalid = &ScanError{Code: "changed_files_must_be_array", Msg: "changed_files must be an array of strings"}
)
