// SPDX-License-Identifier: MPL-2.0

package testutil

import "github.com/faultlab/faultlab/internal/scenario"

// MarkerFile is the file whose presence the SampleIssue verification checks.
const MarkerFile = "/root/fixed"

// SampleIssue returns a valid issue whose verification succeeds once
// MarkerFile exists. Pair it with MarkerScript on a FakeEngine.
func SampleIssue(id string) *scenario.Issue {
	return &scenario.Issue{
		ID:                 id,
		Title:              "Missing marker file",
		Description:        "A service refuses to start because a required marker file was deleted during maintenance.",
		Category:           scenario.CategoryFileSystem,
		Difficulty:         scenario.DifficultyEasy,
		SetupScript:        "#!/bin/bash\nrm -f " + MarkerFile + "\n",
		VerificationScript: "#!/bin/bash\nif [ -f " + MarkerFile + " ]; then exit 0; fi\necho marker missing\nexit 1\n",
		Hints:              []string{"check logs", "check permissions"},
		Solution:           "touch " + MarkerFile,
	}
}

// MarkerScript is a FakeEngine.ScriptFunc that emulates SampleIssue's
// verification script.
func MarkerScript(c *FakeContainer, _ string) (string, int) {
	if c.HasFile(MarkerFile) {
		return "", 0
	}
	return "marker missing\n", 1
}
