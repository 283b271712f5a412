// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"strings"

	"github.com/faultlab/faultlab/internal/scenario"
)

const (
	setupScriptName = "setup.sh"
	dockerfileName  = "Dockerfile"
	setupScriptPath = "/tmp/" + setupScriptName
)

// setupScript returns the issue's setup script with a bash shebang added
// when it has none.
func setupScript(issue *scenario.Issue) string {
	if strings.HasPrefix(issue.SetupScript, "#!") {
		return issue.SetupScript
	}
	return "#!/bin/bash\n" + issue.SetupScript
}

// generateDockerfile layers the diagnostic tools onto the issue's base
// image, runs the setup script once, discards it, and keeps the
// container alive.
func (p *ImageProvisioner) generateDockerfile(issue *scenario.Issue) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "FROM %s\n\n", issue.Image())

	if len(p.config.ToolPackages) > 0 {
		sb.WriteString("ENV DEBIAN_FRONTEND=noninteractive\n")
		fmt.Fprintf(&sb, "RUN apt-get update && apt-get install -y %s && rm -rf /var/lib/apt/lists/*\n\n",
			strings.Join(p.config.ToolPackages, " "))
	}

	fmt.Fprintf(&sb, "COPY %s %s\n", setupScriptName, setupScriptPath)
	fmt.Fprintf(&sb, "RUN chmod +x %s && %s && rm %s\n\n", setupScriptPath, setupScriptPath, setupScriptPath)

	sb.WriteString("WORKDIR /root\n")
	sb.WriteString(`CMD ["tail", "-f", "/dev/null"]` + "\n")

	return sb.String()
}
