package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"fuzzdeck/internal/types"
	"fuzzdeck/internal/utils"
)

// RunCommand assembles the OSS-Fuzz helper invocation for one job:
//
//	python3 <oss-fuzz>/infra/helper.py run_fuzzer --sanitizer=<s>
//	        --max_total_time=<secs> [--dict <path>] <project> <fuzz_target>
//	        [-- <extra args...>]
//
// The process environment is the inherited one, plus the conventional run
// variables, plus the job's own environment on top.
func RunCommand(ossFuzzDir string, job *types.RunJob, artifactDir string) Command {
	args := []string{
		filepath.Join(ossFuzzDir, "infra", "helper.py"),
		"run_fuzzer",
		fmt.Sprintf("--sanitizer=%s", job.Sanitizer),
		fmt.Sprintf("--max_total_time=%d", int(job.MaxRun.Seconds())),
	}
	if job.Dictionary != "" {
		args = append(args, "--dict", job.Dictionary)
	}
	args = append(args, job.Project, job.FuzzTarget)
	if len(job.Args) > 0 {
		args = append(args, "--")
		args = append(args, job.Args...)
	}

	env := utils.MergeEnv(os.Environ(), map[string]string{
		"FUZZ_TARGET":  job.FuzzTarget,
		"FUZZ_PROJECT": job.Project,
		"SANITIZER":    job.Sanitizer,
		"ARTIFACT_DIR": artifactDir,
	})
	env = utils.MergeEnv(env, job.Environment)

	return Command{Path: "python3", Args: args, Env: env}
}

// reproducerPrefixes are the file name prefixes libFuzzer uses when it
// writes an artifact into ARTIFACT_DIR.
var reproducerPrefixes = []string{"crash-", "oom-", "timeout-", "leak-"}

// IsReproducer reports whether path names an engine-written artifact file.
func IsReproducer(path string) bool {
	base := filepath.Base(path)
	for _, prefix := range reproducerPrefixes {
		if len(base) > len(prefix) && base[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
