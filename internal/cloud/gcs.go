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

// Package cloud contains data structures for Google Cloud Storage events.
// When an arena image lands in the bucket, GCS publishes a notification to
// Pub/Sub; GCSPubSubNotification maps that payload and GCSObject is the
// reduced form passed between commands.
package cloud

import "fmt"

// GetGCSObjectName returns the chain context key under which the current
// GCSObject is stored.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// ObjectFinalizeEvent is the eventType attribute GCS sets when a new object is written.
const ObjectFinalizeEvent = "OBJECT_FINALIZE"

// GCSPubSubNotification is the JSON body of a GCS Pub/Sub notification.
// Only the fields the service reads are mapped.
type GCSPubSubNotification struct {
	Kind        string            `json:"kind"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Generation  string            `json:"generation"`
	ContentType string            `json:"contentType"`
	TimeCreated string            `json:"timeCreated"`
	Size        string            `json:"size"`
	MetaData    map[string]string `json:"metadata"`
}

// GCSObject is the reduced representation of a stored object.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
	Metadata map[string]string
}

// URI returns the gs:// form of the object.
func (o *GCSObject) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}
