package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/listsync/internal/config"
	"github.com/roach88/listsync/internal/harness"
)

// Validation error codes.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeConfig   = "E101"
	ErrCodeScenario = "E201"
	ErrCodeNoFiles  = "E301"
)

// ValidationError is one file that failed validation.
type ValidationError struct {
	File    string `json:"file"`
	Kind    string `json:"kind"` // "config" or "scenario"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate config and scenario files",
		Long: `Validate config files and scenario files without running anything.

Files ending in .cue or .json are checked against the config schema
(environment overrides are not applied). Files ending in .yaml or .yml are
parsed as scenarios. Directories are searched recursively.

Example:
  listsync validate ./listsync.cue
  listsync validate ./testdata/scenarios`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	files, err := collectFiles(paths)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	if len(files) == 0 {
		return outputValidateError(formatter, ErrCodeNoFiles, "no config or scenario files found", paths)
	}

	var errs []ValidationError
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		if verr := validateFile(file); verr != nil {
			errs = append(errs, *verr)
		}
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, len(files), errs)
	}
	return outputValidateSuccess(formatter, len(files))
}

// collectFiles expands directories into the config and scenario files below
// them. Explicit file arguments are kept regardless of extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("path not found: %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() && fileKind(path) != "" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func fileKind(path string) string {
	switch filepath.Ext(path) {
	case ".cue", ".json":
		return "config"
	case ".yaml", ".yml":
		return "scenario"
	default:
		return ""
	}
}

func validateFile(path string) *ValidationError {
	switch fileKind(path) {
	case "config":
		if _, err := config.LoadFile(path); err != nil {
			return &ValidationError{File: path, Kind: "config", Code: ErrCodeConfig, Message: err.Error()}
		}
	case "scenario":
		if _, err := harness.LoadScenario(path); err != nil {
			return &ValidationError{File: path, Kind: "scenario", Code: ErrCodeScenario, Message: err.Error()}
		}
	default:
		return &ValidationError{File: path, Code: ErrCodeGeneric, Message: "unrecognized file type (want .cue, .json, .yaml or .yml)"}
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, files int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Files: files})
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d file(s) valid\n", files)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs per-file validation failures.
func outputValidationErrors(formatter *OutputFormatter, files int, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Files:  files,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		if err := writeIndented(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n", err.File)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
