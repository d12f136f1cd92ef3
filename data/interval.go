// Copyright 2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"time"

	"github.com/rs/zerolog"
)

// Interval is a closed date range at daily resolution.
type Interval struct {
	Begin time.Time
	End   time.Time
}

// Contains returns true if interval completely contains other
func (interval *Interval) Contains(other *Interval) bool {
	return (other.Begin.After(interval.Begin) || other.Begin.Equal(interval.Begin)) &&
		(other.End.Before(interval.End) || other.End.Equal(interval.End))
}

// Valid checks if the given interval is a valid range and returns an error if not
func (interval *Interval) Valid() error {
	if interval.Begin.After(interval.End) {
		return ErrInvalidTimeRange
	}
	return nil
}

// MarshalZerologObject implements the log marshaller interface for zerolog
func (interval *Interval) MarshalZerologObject(e *zerolog.Event) {
	e.Time("Begin", interval.Begin).Time("End", interval.End)
}
