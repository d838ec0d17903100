// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package main

import "github.com/ten0s/bee2/cmd"

func main() {
	cmd.Execute()
}
