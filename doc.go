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

// Package splitrun executes splittable units of work with restriction
// based checkpointing, using generics to keep element, restriction, and
// position types checked at compile time.
//
// A unit of work is an element paired with a restriction describing the
// positions still to process. User code claims positions through a
// [Tracker] and emits outputs as it goes. An [Invoker] bounds each
// processing session by output count and wall clock duration, requesting a
// checkpoint when either is crossed; the unclaimed remainder of the
// restriction becomes a residual that a [ProcessFn] persists in per-key
// state, together with a watermark hold, until a timer redelivers the key
// and a new session resumes from the residual.
//
// State and residuals are serialized with the deterministic stream format
// in the coders package, so work may be suspended in one process and
// resumed in another. The runner/direct package provides a local keyed
// executor that drives ProcessFns end to end.
package splitrun
