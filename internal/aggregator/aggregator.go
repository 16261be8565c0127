// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package aggregator renders a set of events for one user into a single
// message body, in one of three formats.
//
// Rendering is pure: the same events yield the same output, except for the
// multipart boundary which is unique per call.
package aggregator

import (
	"fmt"
	"html"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-messaging/model"
)

const messageExcerptLength = 80

// eventTypeOrder fixes the order in which per-type sections are emitted.
var eventTypeOrder = []model.EventType{
	model.EventTypeNotification,
	model.EventTypeAlert,
	model.EventTypeWarning,
	model.EventTypeInfo,
}

// Render formats the given events into a single message for delivery,
// returning a subject, the rendered body, and its content type. For the
// multipart method the returned content type carries the boundary.
func Render(userID string, events []*model.Event, method model.AggregationMethod) (string, string, string, error) {
	subject := fmt.Sprintf("Event Summary for User %s", userID)

	switch method {
	case model.AggregationPlain:
		return subject, renderPlain(userID, events), "text/plain; charset=utf-8", nil

	case model.AggregationHTML:
		return subject, renderHTML(userID, events), "text/html; charset=utf-8", nil

	case model.AggregationMIME:
		body, contentType, err := renderMultipart(userID, events)
		if err != nil {
			return "", "", "", err
		}
		return subject, body, contentType, nil

	default:
		return "", "", "", errors.Errorf("unknown aggregation method %s", method)
	}
}

// sortedCopy returns the events ordered ascending by timestamp, ties broken
// by event id.
func sortedCopy(events []*model.Event) []*model.Event {
	sorted := make([]*model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].EventID < sorted[j].EventID
	})

	return sorted
}

// groupByType partitions the events by type, preserving their order.
func groupByType(events []*model.Event) map[model.EventType][]*model.Event {
	grouped := map[model.EventType][]*model.Event{}
	for _, event := range events {
		grouped[event.EventType] = append(grouped[event.EventType], event)
	}

	return grouped
}

// eventLine summarizes one event as "HH:MM - <subject or message excerpt>".
func eventLine(event *model.Event) string {
	summary := event.Subject
	if summary == "" {
		summary = event.Message
		// Truncate on a rune boundary so multi-byte characters stay intact.
		if runes := []rune(summary); len(runes) > messageExcerptLength {
			summary = string(runes[:messageExcerptLength])
		}
	}

	return fmt.Sprintf("%s - %s", model.TimeFromMillis(event.Timestamp).Format("15:04"), summary)
}

func renderPlain(userID string, events []*model.Event) string {
	events = sortedCopy(events)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Event Summary for User %s\n", userID)

	if len(events) > 0 {
		first := model.TimeFromMillis(events[0].Timestamp)
		last := model.TimeFromMillis(events[len(events)-1].Timestamp)
		fmt.Fprintf(&sb, "Date range: %s - %s UTC\n",
			first.Format("2006-01-02 15:04"),
			last.Format("2006-01-02 15:04"),
		)
	}

	fmt.Fprintf(&sb, "Total events: %d\n", len(events))

	grouped := groupByType(events)
	for _, eventType := range eventTypeOrder {
		typeEvents := grouped[eventType]
		if len(typeEvents) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "\n%s (%d):\n", eventType, len(typeEvents))
		for _, event := range typeEvents {
			fmt.Fprintf(&sb, "  %s\n", eventLine(event))
		}
	}

	return sb.String()
}

func renderHTML(userID string, events []*model.Event) string {
	events = sortedCopy(events)

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString("<style>\ntable, th, td { border: 1px solid black; border-collapse: collapse; padding: 4px; }\n</style>\n")
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>Event Summary for User %s</h1>\n", html.EscapeString(userID))
	fmt.Fprintf(&sb, "<p>Total events: %d</p>\n", len(events))
	sb.WriteString("<table>\n<tr><th>Timestamp</th><th>Event ID</th><th>Type</th><th>Subject</th></tr>\n")

	for _, event := range events {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			model.TimeFromMillis(event.Timestamp).Format("2006-01-02T15:04Z"),
			html.EscapeString(event.EventID),
			html.EscapeString(string(event.EventType)),
			html.EscapeString(event.Subject),
		)
	}

	sb.WriteString("</table>\n</body>\n</html>\n")

	return sb.String()
}

func renderMultipart(userID string, events []*model.Event) (string, string, error) {
	events = sortedCopy(events)

	var sb strings.Builder
	writer := multipart.NewWriter(&sb)

	summaryHeader := textproto.MIMEHeader{}
	summaryHeader.Set("Content-Type", "text/plain; charset=utf-8")
	summary, err := writer.CreatePart(summaryHeader)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create summary part")
	}
	if _, err = summary.Write([]byte(renderPlain(userID, events))); err != nil {
		return "", "", errors.Wrap(err, "failed to write summary part")
	}

	grouped := groupByType(events)
	for _, eventType := range eventTypeOrder {
		typeEvents := grouped[eventType]
		if len(typeEvents) == 0 {
			continue
		}

		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fmt.Sprintf("%s_events.txt", eventType)))
		part, err := writer.CreatePart(header)
		if err != nil {
			return "", "", errors.Wrapf(err, "failed to create %s part", eventType)
		}

		var listing strings.Builder
		fmt.Fprintf(&listing, "%s (%d):\n", eventType, len(typeEvents))
		for _, event := range typeEvents {
			fmt.Fprintf(&listing, "%s\n", eventLine(event))
		}

		if _, err = part.Write([]byte(listing.String())); err != nil {
			return "", "", errors.Wrapf(err, "failed to write %s part", eventType)
		}
	}

	if err = writer.Close(); err != nil {
		return "", "", errors.Wrap(err, "failed to finalize multipart message")
	}

	contentType := fmt.Sprintf("multipart/mixed; boundary=%s", writer.Boundary())

	return sb.String(), contentType, nil
}

// RenderSingle formats a lone event for immediate delivery, bypassing the
// summary framing for the plain method so the message reads naturally.
func RenderSingle(event *model.Event, method model.AggregationMethod) (string, string, string, error) {
	if method == model.AggregationPlain {
		subject := event.Subject
		if subject == "" {
			subject = fmt.Sprintf("%s from %s", event.EventType, event.Sender)
		}
		return subject, event.Message, "text/plain; charset=utf-8", nil
	}

	subject, body, contentType, err := Render(event.UserID, []*model.Event{event}, method)
	if err != nil {
		return "", "", "", err
	}

	if event.Subject != "" {
		subject = event.Subject
	}

	return subject, body, contentType, nil
}
