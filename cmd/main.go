// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"cutout.io/cutout/cmd/apps"
	"cutout.io/cutout/pkg/version"
	"github.com/spf13/cobra"
)

const ErrExitCode = 1

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cutout",
		Short:   "cutout job workflow",
		Version: version.Get().String(),
	}
	cmd.AddCommand(
		apps.NewVersionCmd(),
		apps.NewWorkerCmd(),
		apps.NewSubmitCmd(),
		apps.NewRevokeCmd(),
		apps.NewMigrateCmd(),
		apps.NewCollectCmd(),
		apps.NewConfigCmd(),
	)
	return cmd
}
