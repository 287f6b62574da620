// Copyright 2015 Google Inc. All Rights Reserved.
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

package gah

import "errors"

// Validation failure kinds, per spec §4.1.
var (
	ErrVersionMismatch = errors.New("gah: version mismatch")
	ErrCRCMismatch     = errors.New("gah: crc mismatch")
	ErrOutOfRange      = errors.New("gah: fid out of range")
	ErrExpired         = errors.New("gah: slot reused or freed")
	ErrInvalidParam    = errors.New("gah: invalid parameter")
)
