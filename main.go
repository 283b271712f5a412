// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/faultlab/faultlab/cmd/faultlab"

func main() {
	cmd.Execute()
}
