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

// Package commands. ArenaTriggerToGCSObject turns the JSON body of a Cloud
// Storage Pub/Sub notification into a cloud.GCSObject. Only finalized image
// objects under the arena prefix are accepted; anything else is reported as
// ErrIgnoredObject so the listener can acknowledge and drop the message.
//
// Inputs:
//   - string: the raw notification payload.
//
// Outputs:
//   - *cloud.GCSObject: under cloud.GetGCSObjectName() and the output parameter.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
)

// ErrIgnoredObject marks a notification for an object the service does not act on.
var ErrIgnoredObject = errors.New("object ignored")

type ArenaTriggerToGCSObject struct {
	cor.BaseCommand
	prefix string
}

func NewArenaTriggerToGCSObject(name string, prefix string) *ArenaTriggerToGCSObject {
	return &ArenaTriggerToGCSObject{BaseCommand: *cor.NewBaseCommand(name), prefix: strings.Trim(prefix, "/")}
}

func (c *ArenaTriggerToGCSObject) Execute(context cor.Context) {
	in := context.Get(c.GetInputParam()).(string)

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	if c.prefix != "" && !strings.HasPrefix(out.Name, c.prefix+"/") {
		c.Fail(context, fmt.Errorf("%w: %s is outside %s/", ErrIgnoredObject, out.Name, c.prefix))
		return
	}
	if !strings.HasPrefix(out.ContentType, "image/") {
		c.Fail(context, fmt.Errorf("%w: %s has content type %q", ErrIgnoredObject, out.Name, out.ContentType))
		return
	}

	msg := &cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType, Metadata: out.MetaData}
	c.Succeed(context)
	context.Add(cloud.GetGCSObjectName(), msg)
	context.Add(c.GetOutputParam(), msg)
}
