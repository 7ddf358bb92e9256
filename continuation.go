// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package splitrun

import "time"

// ProcessContinuation is how user code signals, on return, whether it
// relinquished control voluntarily before exhausting its restriction.
//
// It is a value returned from [ProcessRestriction], never emitted as an
// output, so the engine distinguishes outputs from continuations
// structurally rather than by inspecting the output stream.
type ProcessContinuation struct {
	resumes bool
	delay   time.Duration
}

// Stop reports that processing ran until the tracker stopped granting
// claims. This is the normal way to end a session.
func Stop() ProcessContinuation {
	return ProcessContinuation{}
}

// Resume reports that processing yielded voluntarily and the remainder
// should be rescheduled as soon as possible.
func Resume() ProcessContinuation {
	return ProcessContinuation{resumes: true}
}

// ResumeAfter is like [Resume] with a requested delay before the residual
// is reprocessed.
func ResumeAfter(delay time.Duration) ProcessContinuation {
	return ProcessContinuation{resumes: true, delay: delay}
}

// Resumes reports whether user code yielded voluntarily.
func (c ProcessContinuation) Resumes() bool { return c.resumes }

// ResumeDelay is the requested delay before resumption. Zero when none was
// requested.
func (c ProcessContinuation) ResumeDelay() time.Duration { return c.delay }
