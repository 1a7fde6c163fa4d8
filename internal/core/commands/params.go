// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commands holds the concrete cor.Command implementations used by the
// media post-processor and the session workflows. Commands exchange data
// through the chain context using the parameter keys declared here.
package commands

// Context keys shared by the media chains.
const (
	ParamScratchDir   = "__SCRATCH_DIR__"
	ParamVideoFile    = "__VIDEO_FILE__"
	ParamDuration     = "__VIDEO_DURATION__"
	ParamFrameFile    = "__FRAME_FILE__"
	ParamSegmentFiles = "__SEGMENT_FILES__"
	ParamConcatList   = "__CONCAT_LIST__"
	ParamOutputFile   = "__OUTPUT_FILE__"
	ParamSession      = "__SESSION__"
)
