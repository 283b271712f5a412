// SPDX-License-Identifier: MPL-2.0

// Package provision realizes a scenario.Issue as a running environment.
//
// The provisioner stages the issue's setup script next to a generated
// Dockerfile, builds an image tagged deterministically from the issue id,
// and starts one detached container from it:
//
//	p := provision.NewImageProvisioner(engine, provision.DefaultConfig())
//	envID, err := p.Provision(ctx, issue)
//	defer p.Remove(context.Background(), envID)
//
// Images are reused across environments of the same issue. Containers are
// never reused: every call to Provision starts a fresh, uniquely named one.
package provision
