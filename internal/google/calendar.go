// Package google hosts the Google Calendar client that mirrors
// occurrences as calendar events. Authentication uses a service
// account JWT read from a credentials file.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"streamcast/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// defaultEventDuration is used when an occurrence has no end time;
// calendar events require one.
const defaultEventDuration = time.Hour

type CalendarService struct {
	service    *calendar.Service
	calendarID string
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string) (*CalendarService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client := config.Client(ctx)
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return &CalendarService{service: srv, calendarID: calendarID}, nil
}

// TestConnection verifies the service account can reach the calendar.
func (s *CalendarService) TestConnection(ctx context.Context) error {
	_, err := s.service.Events.List(s.calendarID).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *CalendarService) CreateRemoteEntity(ctx context.Context, occ *models.Occurrence) (string, error) {
	created, err := s.service.Events.Insert(s.calendarID, eventFromOccurrence(occ)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}
	return created.Id, nil
}

func (s *CalendarService) UpdateRemoteEntity(ctx context.Context, remoteID string, occ *models.Occurrence) error {
	_, err := s.service.Events.Update(s.calendarID, remoteID, eventFromOccurrence(occ)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update calendar event %s: %w", remoteID, err)
	}
	return nil
}

func (s *CalendarService) DeleteRemoteEntity(ctx context.Context, remoteID string) error {
	err := s.service.Events.Delete(s.calendarID, remoteID).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to delete calendar event %s: %w", remoteID, err)
	}
	return nil
}

// isGone treats an already-deleted event as success so retired
// occurrences never wedge on a missing remote.
func isGone(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 404 || apiErr.Code == 410
	}
	return false
}

func eventFromOccurrence(occ *models.Occurrence) *calendar.Event {
	start := occ.ScheduledFor
	end := start.Add(defaultEventDuration)
	if occ.EndsAt != nil {
		end = *occ.EndsAt
	}

	return &calendar.Event{
		Summary:     occ.Title,
		Description: eventDescription(occ),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
}

func eventDescription(occ *models.Occurrence) string {
	parts := []string{occ.Body}
	if occ.Hashtags != "" {
		parts = append(parts, occ.Hashtags)
	}
	if len(occ.Platforms) > 0 {
		parts = append(parts, "Platforms: "+strings.Join(occ.Platforms, ", "))
	}
	return strings.Join(parts, "\n\n")
}
