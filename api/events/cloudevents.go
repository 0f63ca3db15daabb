package events

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"appcore/api/model"
)

const ceTypePrefix = "io.appcore.application."

// CloudEventsPublisher posts each event as a structured CloudEvent to an HTTP
// sink.
type CloudEventsPublisher struct {
	client cloudevents.Client
	sink   string
	source string
}

func NewCloudEventsPublisher(sink, source string) (*CloudEventsPublisher, error) {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return &CloudEventsPublisher{client: c, sink: sink, source: source}, nil
}

// ToCloudEvent converts an application event; the workspace travels as an
// extension attribute.
func ToCloudEvent(source, workspaceID string, ev *model.ApplicationEvent) (cloudevents.Event, error) {
	evt := cloudevents.NewEvent()
	id := ev.ID
	if id == "" {
		id = newEventID()
	}
	evt.SetID(id)
	evt.SetSource(source)
	evt.SetType(ceTypePrefix + ev.Type)
	evt.SetSubject(ev.ApplicationID)
	evt.SetTime(ev.Timestamp)
	evt.SetExtension("workspaceid", workspaceID)
	if err := evt.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return evt, err
	}
	return evt, evt.Validate()
}

func (p *CloudEventsPublisher) Publish(ctx context.Context, workspaceID string, ev *model.ApplicationEvent) error {
	evt, err := ToCloudEvent(p.source, workspaceID, ev)
	if err != nil {
		return fmt.Errorf("build cloudevent: %w", err)
	}
	result := p.client.Send(cloudevents.ContextWithTarget(ctx, p.sink), evt)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("send cloudevent %s to %s: %w", evt.ID(), p.sink, result)
	}
	log.Debugf("delivered %s for application %s", evt.Type(), ev.ApplicationID)
	return nil
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
