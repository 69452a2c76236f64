package firestore

import (
	"fmt"
	"path"
	"time"

	fs "google.golang.org/api/firestore/v1"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/task"
)

// Document field names.
const (
	fieldRemoteID    = "remoteId"
	fieldName        = "name"
	fieldDescription = "description"
	fieldStart       = "startDateTime"
	fieldEnd         = "endDateTime"
	fieldCategory    = "category"
	fieldComplete    = "isComplete"
	fieldCompletedAt = "completionDate"
	fieldUpdatedAt   = "updatedAt"
	fieldCreatedAt   = "createdAt"
	fieldDeviceID    = "deviceId"
)

func encodeDocument(doc remote.Document) *fs.Document {
	t := doc.Task
	fields := map[string]fs.Value{
		fieldRemoteID:    stringValue(t.RemoteID),
		fieldName:        stringValue(t.Name),
		fieldDescription: stringValue(t.Description),
		fieldComplete:    boolValue(t.IsComplete),
		fieldUpdatedAt:   intValue(t.UpdatedAt),
		fieldCreatedAt:   timestampValue(t.CreatedAt),
		fieldDeviceID:    stringValue(doc.DeviceID),
	}
	if t.StartAt != nil {
		fields[fieldStart] = timestampValue(*t.StartAt)
	}
	if t.EndAt != nil {
		fields[fieldEnd] = timestampValue(*t.EndAt)
	}
	if t.CompletedAt != nil {
		fields[fieldCompletedAt] = timestampValue(*t.CompletedAt)
	}
	if t.Category != nil {
		fields[fieldCategory] = fs.Value{MapValue: &fs.MapValue{
			Fields: map[string]fs.Value{"name": stringValue(t.Category.Name)},
		}}
	}
	return &fs.Document{Fields: fields}
}

func decodeDocument(d *fs.Document) (remote.Document, error) {
	f := d.Fields
	t := task.Task{
		RemoteID:    getString(f, fieldRemoteID),
		Name:        getString(f, fieldName),
		Description: getString(f, fieldDescription),
		IsComplete:  getBool(f, fieldComplete),
		UpdatedAt:   getInt(f, fieldUpdatedAt),
	}
	if t.RemoteID == "" {
		t.RemoteID = path.Base(d.Name)
	}

	var err error
	if t.StartAt, err = getTime(f, fieldStart); err != nil {
		return remote.Document{}, err
	}
	if t.EndAt, err = getTime(f, fieldEnd); err != nil {
		return remote.Document{}, err
	}
	if t.CompletedAt, err = getTime(f, fieldCompletedAt); err != nil {
		return remote.Document{}, err
	}
	created, err := getTime(f, fieldCreatedAt)
	if err != nil {
		return remote.Document{}, err
	}
	if created != nil {
		t.CreatedAt = *created
	}
	if v, ok := f[fieldCategory]; ok && v.MapValue != nil {
		name := getString(v.MapValue.Fields, "name")
		if name != "" {
			t.Category = &task.Category{Name: name}
		}
	}

	if err := t.Validate(); err != nil {
		return remote.Document{}, fmt.Errorf("invalid task document: %w", err)
	}

	return remote.Document{Task: t, DeviceID: getString(f, fieldDeviceID)}, nil
}

// Scalar values force their field so that "", false and 0 still carry a
// type on the wire; Firestore rejects a Value with no type set.
func stringValue(s string) fs.Value {
	return fs.Value{StringValue: s, ForceSendFields: []string{"StringValue"}}
}

func boolValue(b bool) fs.Value {
	return fs.Value{BooleanValue: b, ForceSendFields: []string{"BooleanValue"}}
}

func intValue(n int64) fs.Value {
	return fs.Value{IntegerValue: n, ForceSendFields: []string{"IntegerValue"}}
}

func timestampValue(t time.Time) fs.Value {
	return fs.Value{TimestampValue: t.UTC().Format(time.RFC3339Nano)}
}

func getString(f map[string]fs.Value, key string) string {
	return f[key].StringValue
}

func getBool(f map[string]fs.Value, key string) bool {
	return f[key].BooleanValue
}

func getInt(f map[string]fs.Value, key string) int64 {
	return f[key].IntegerValue
}

func getTime(f map[string]fs.Value, key string) (*time.Time, error) {
	v, ok := f[key]
	if !ok || v.TimestampValue == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.TimestampValue)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &t, nil
}
