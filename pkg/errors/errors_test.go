package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestWithMessageCopies(t *testing.T) {
	with := ErrMeetingNotStarted.WithMessage("Meeting starts in 10 minutes")

	if with == ErrMeetingNotStarted {
		t.Fatal("expected WithMessage to return a copy")
	}
	if with.Code != ErrMeetingNotStarted.Code {
		t.Fatalf("expected code to be preserved, got %s", with.Code)
	}
	if with.Message != "Meeting starts in 10 minutes" {
		t.Fatalf("unexpected message: %s", with.Message)
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestAdmissionRejectionCodes(t *testing.T) {
	cases := map[*AppError]string{
		ErrMeetingEnded:          "meeting.ended",
		ErrMeetingNotStarted:     "meeting.not_started",
		ErrMeetingExpired:        "meeting.expired",
		ErrMeetingFull:           "meeting.full",
		ErrParticipantBanned:     "participant.banned",
		ErrAlreadyInMeeting:      "participant.already_in_meeting",
		ErrParticipantNotPending: "participant.not_pending",
	}

	for err, code := range cases {
		if err.Code != code {
			t.Fatalf("expected code %s, got %s", code, err.Code)
		}
	}

	if ErrParticipantBanned.StatusCode != http.StatusForbidden {
		t.Fatalf("expected banned rejection to map to 403, got %d", ErrParticipantBanned.StatusCode)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("title cannot be empty")
	if err.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected code: %s", err.Code)
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
	if err.Message != "title cannot be empty" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
}
