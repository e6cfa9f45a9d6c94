// Copyright 2019 Sorint.lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	uuid "github.com/satori/go.uuid"
)

// UID returns a random identifier suitable as a default node name suffix
// or a default replication slot discriminator when the operator hasn't
// picked an explicit one.
func UID() string {
	return uuid.NewV4().String()
}
