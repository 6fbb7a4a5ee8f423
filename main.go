// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/realmbridge/cmd/realmbridge"

func main() {
	cmd.Execute()
}
