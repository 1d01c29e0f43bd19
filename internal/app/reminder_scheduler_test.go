package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleReminderForCourse_Preconditions(t *testing.T) {
	tests := []struct {
		name       string
		courseID   string
		courseType course.Type
		start      time.Time
		users      []course.Enrollee
		wantErr    error
	}{
		{name: "blank id", courseID: " ", courseType: course.TypeInPerson, wantErr: ErrInvalidArguments},
		{name: "self-paced", courseID: "sp", courseType: course.TypeSelfPaced, wantErr: ErrInvalidArguments},
		{name: "unknown type", courseID: "x", courseType: course.Type("webinar"), wantErr: ErrInvalidArguments},
		{name: "not found", courseID: "missing", courseType: course.TypeInPerson, wantErr: course.ErrCourseNotFound},
		{name: "no start date", courseID: "nodate", courseType: course.TypeInPerson, users: []course.Enrollee{paid("u1")}, wantErr: ErrNoStartDate},
		{name: "already started", courseID: "past", courseType: course.TypeInPerson, start: testNow.Add(-time.Hour), users: []course.Enrollee{paid("u1")}, wantErr: ErrCourseStarted},
		{name: "starts now", courseID: "now", courseType: course.TypeInPerson, start: testNow, users: []course.Enrollee{paid("u1")}, wantErr: ErrCourseStarted},
		{name: "within 24h", courseID: "soon", courseType: course.TypeOnlineLive, start: testNow.Add(12 * time.Hour), users: []course.Enrollee{paid("u1")}, wantErr: ErrReminderWindowPassed},
		{name: "exactly 24h", courseID: "edge", courseType: course.TypeOnlineLive, start: testNow.Add(24 * time.Hour), users: []course.Enrollee{paid("u1")}, wantErr: ErrReminderWindowPassed},
		{name: "no users", courseID: "empty", courseType: course.TypeInPerson, start: testNow.Add(72 * time.Hour), wantErr: ErrNoRecipients},
		{
			name:       "only ineligible users",
			courseID:   "wish",
			courseType: course.TypeInPerson,
			start:      testNow.Add(72 * time.Hour),
			users:      []course.Enrollee{{UserID: "w", Email: "w@example.com", Status: course.EnrollmentWishlist}},
			wantErr:    ErrNoRecipients,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.courseID != "missing" && tt.courseType.HasStartDate() {
				h.courses.addCourse(tt.courseID, tt.courseType, tt.start, tt.users...)
			}

			jobID, err := h.sched.ScheduleReminderForCourse(context.Background(), tt.courseID, tt.courseType)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, jobID)
			assert.Empty(t, h.sched.ScheduledReminders())
		})
	}
}

func TestScheduleReminderForCourse_FiresAt24hBeforeStart(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(48 * time.Hour)
	h.courses.addCourse("A", course.TypeInPerson, start, paid("u1"), paid("u2"))

	jobID, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("in-person_A_%d", testNow.UnixMilli()), jobID)

	pending := h.sched.ScheduledReminders()
	require.Len(t, pending, 1)
	assert.Equal(t, start.Add(-24*time.Hour), pending[0].FireAt)
	assert.Equal(t, 2, pending[0].RecipientCount)
	assert.Equal(t, reminder.EmailCourseStarting, pending[0].EmailType)
	assert.Equal(t, "Course A", pending[0].CourseName)
	assert.Equal(t, "C-A", pending[0].CourseCode)
	assert.Equal(t, 24*time.Hour, h.timers.last().delay)

	h.timers.fireAll(false)

	sent := h.sender.emails()
	require.Len(t, sent, 2)
	assert.Equal(t, "course-starting", sent[0].kind)
	assert.Equal(t, "u1@example.com", sent[0].to)
	assert.Equal(t, "u2@example.com", sent[1].to)

	history := h.sched.ReminderHistory(0, "")
	require.Len(t, history, 1)
	assert.Equal(t, jobID, history[0].JobID)
	assert.Equal(t, reminder.JobStatusCompleted, history[0].Status)
	assert.Equal(t, 2, history[0].SuccessCount)
	assert.Equal(t, 0, history[0].FailureCount)
	assert.Empty(t, h.sched.ScheduledReminders(), "fired job leaves the registry")

	require.Len(t, h.history.entries, 1, "history is written back to the course")
	assert.Equal(t, "A", h.history.entries[0].CourseID)

	stats := h.sched.Status().Stats
	assert.Equal(t, 1, stats.TotalScheduled)
	assert.Equal(t, 1, stats.TotalExecuted)
	assert.Equal(t, 2, stats.TotalEmailsSent)
}

func TestScheduleReminderForCourse_ReschedulingKeepsOneStandardJob(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(72*time.Hour), paid("u1"))

	first, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)
	h.now = h.now.Add(time.Minute)
	second, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	pending := h.sched.ScheduledReminders()
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].JobID)
	assert.True(t, h.timers.timers[0].stopped, "first timer is stopped")

	// Even if the replaced timer's callback runs, it must not send.
	h.timers.fireAll(true)
	assert.Len(t, h.sender.emails(), 1)
	assert.Len(t, h.sched.ReminderHistory(0, ""), 1)
}

func TestScheduleReminderForCourse_KeepsCustomReminders(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeOnlineLive, testNow.Add(72*time.Hour), paid("u1"))

	custom, err := h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeOnlineLive, testNow.Add(time.Hour), reminder.EmailTechCheck, "")
	require.NoError(t, err)
	_, err = h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeOnlineLive)
	require.NoError(t, err)
	_, err = h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeOnlineLive)
	require.NoError(t, err)

	pending := h.sched.ScheduledReminders()
	require.Len(t, pending, 2)
	assert.Equal(t, custom, pending[0].JobID)
}

func TestScheduleCustomReminder_Validation(t *testing.T) {
	tests := []struct {
		name       string
		courseType course.Type
		sendAt     time.Time
		emailType  reminder.EmailType
		message    string
		wantErr    error
	}{
		{name: "blank custom message", courseType: course.TypeInPerson, sendAt: testNow.Add(5 * time.Hour), emailType: reminder.EmailCustom, message: "  ", wantErr: ErrBlankCustomMessage},
		{name: "send time in past", courseType: course.TypeInPerson, sendAt: testNow.Add(-time.Minute), emailType: reminder.EmailPreparation, wantErr: ErrSendTimeInPast},
		{name: "send time now", courseType: course.TypeInPerson, sendAt: testNow, emailType: reminder.EmailPreparation, wantErr: ErrSendTimeInPast},
		{name: "tech check for in-person", courseType: course.TypeInPerson, sendAt: testNow.Add(time.Hour), emailType: reminder.EmailTechCheck, wantErr: ErrUnsupportedEmailType},
		{name: "unknown email type", courseType: course.TypeInPerson, sendAt: testNow.Add(time.Hour), emailType: reminder.EmailType("sms"), wantErr: ErrInvalidArguments},
		{name: "self-paced", courseType: course.TypeSelfPaced, sendAt: testNow.Add(time.Hour), emailType: reminder.EmailPreparation, wantErr: ErrInvalidArguments},
		{name: "underscored tech check for in-person", courseType: course.TypeInPerson, sendAt: testNow.Add(time.Hour), emailType: reminder.EmailType("Tech_Check"), wantErr: ErrUnsupportedEmailType},
		{name: "upper-case custom with blank message", courseType: course.TypeInPerson, sendAt: testNow.Add(time.Hour), emailType: reminder.EmailType("CUSTOM"), message: "  ", wantErr: ErrBlankCustomMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.courses.addCourse("D", tt.courseType, testNow.Add(48*time.Hour), paid("u1"))

			jobID, err := h.sched.ScheduleCustomReminder(context.Background(), "D", tt.courseType, tt.sendAt, tt.emailType, tt.message)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, jobID)
		})
	}
}

func TestScheduleCustomReminder_NormalizesEmailType(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("D", course.TypeOnlineLive, testNow.Add(48*time.Hour), paid("u1"))

	_, err := h.sched.ScheduleCustomReminder(context.Background(), "D", course.TypeOnlineLive, testNow.Add(time.Hour), reminder.EmailType(" Tech_Check "), "")
	require.NoError(t, err)

	pending := h.sched.ScheduledReminders()
	require.Len(t, pending, 1)
	assert.Equal(t, reminder.EmailTechCheck, pending[0].EmailType)

	h.timers.fireAll(false)
	sent := h.sender.emails()
	require.Len(t, sent, 1)
	assert.Equal(t, "tech-check", sent[0].kind)
}

func TestScheduleCustomReminder_DoesNotNeedLeadTime(t *testing.T) {
	h := newHarness(t)
	// Starts in 3h: too late for the standard reminder, fine for a custom one.
	h.courses.addCourse("D", course.TypeInPerson, testNow.Add(3*time.Hour), paid("u1"))

	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "D", course.TypeInPerson)
	require.ErrorIs(t, err, ErrReminderWindowPassed)

	jobID, err := h.sched.ScheduleCustomReminder(context.Background(), "D", course.TypeInPerson, testNow.Add(time.Hour), reminder.EmailCustom, "Bring your laptop")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	h.timers.fireAll(false)
	sent := h.sender.emails()
	require.Len(t, sent, 1)
	assert.Equal(t, "custom", sent[0].kind)
	assert.Equal(t, "Bring your laptop", sent[0].message)
}

func TestScheduleCustomReminder_SameInstantGetsUniqueIDs(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("D", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))

	a, err := h.sched.ScheduleCustomReminder(context.Background(), "D", course.TypeInPerson, testNow.Add(time.Hour), reminder.EmailPreparation, "")
	require.NoError(t, err)
	b, err := h.sched.ScheduleCustomReminder(context.Background(), "D", course.TypeInPerson, testNow.Add(2*time.Hour), reminder.EmailPreparation, "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, h.sched.ScheduledReminders(), 2)
}

func TestExecution_SkipsUsersNoLongerEnrolled(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("C", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "C", course.TypeInPerson)
	require.NoError(t, err)

	h.courses.setStatus("u1", "C", course.EnrollmentCancelled)
	h.timers.fireAll(false)

	assert.Empty(t, h.sender.emails())
	history := h.sched.ReminderHistory(0, "")
	require.Len(t, history, 1)
	entry := history[0]
	assert.Equal(t, 1, entry.RecipientCount)
	assert.Equal(t, 0, entry.SuccessCount)
	// A skipped recipient is not a failure: it is counted apart so the
	// outcome stays distinguishable from a failed send.
	assert.Equal(t, 0, entry.FailureCount)
	assert.Equal(t, 1, entry.SkippedCount)
	assert.Equal(t, reminder.JobStatusCompleted, entry.Status)
}

func TestExecution_FailedRecipientDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"), registered("u2"), paid("u3"), paid("u4"))
	h.sender.failFor["u2@example.com"] = errBoom
	h.courses.statusErr["u3|A"] = errBoom

	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)
	h.timers.fireAll(false)

	sent := h.sender.emails()
	require.Len(t, sent, 2)
	assert.Equal(t, "u1@example.com", sent[0].to)
	assert.Equal(t, "u4@example.com", sent[1].to)

	entry := h.sched.ReminderHistory(1, "")[0]
	assert.Equal(t, 2, entry.SuccessCount)
	assert.Equal(t, 2, entry.FailureCount)
	assert.Equal(t, entry.RecipientCount, entry.SuccessCount+entry.FailureCount)
	assert.Equal(t, 2, h.sched.Status().Stats.TotalEmailsFailed)
}

func TestExecution_BatchFailureCountsEveryRecipient(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"), paid("u2"), paid("u3"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	h.courses.summaryErr = errBoom
	h.timers.fireAll(false)

	assert.Empty(t, h.sender.emails())
	entry := h.sched.ReminderHistory(1, "")[0]
	assert.Equal(t, reminder.JobStatusFailed, entry.Status)
	assert.Equal(t, 0, entry.SuccessCount)
	assert.Equal(t, 3, entry.FailureCount)
	assert.Contains(t, entry.Error, "boom")
	assert.Empty(t, h.sched.ScheduledReminders())
}

func TestExecution_HistoryWriteFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.history.err = errBoom
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	h.timers.fireAll(false)

	entry := h.sched.ReminderHistory(1, "")[0]
	assert.Equal(t, reminder.JobStatusCompleted, entry.Status)
	assert.Equal(t, 1, entry.SuccessCount)
}

func TestExecution_FallsBackToPlainEmail(t *testing.T) {
	h := newHarness(t)
	h.sender.unavailable["preparation"] = true
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))

	_, err := h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeInPerson, testNow.Add(time.Hour), reminder.EmailPreparation, "")
	require.NoError(t, err)
	h.timers.fireAll(false)

	sent := h.sender.emails()
	require.Len(t, sent, 1)
	assert.Equal(t, "plain", sent[0].kind)
	assert.Equal(t, "Prepare for Course A", sent[0].subject)
	assert.Contains(t, sent[0].message, "Hello User u1,")
	assert.Equal(t, 1, h.sched.ReminderHistory(1, "")[0].SuccessCount)
}

func TestExecution_OnExecutedHook(t *testing.T) {
	var got []reminder.HistoryEntry
	h := newHarness(t, func(o *SchedulerOptions) {
		o.OnExecuted = func(e reminder.HistoryEntry) { got = append(got, e) }
	})
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	h.timers.fireAll(false)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].SuccessCount)
}

func TestExecution_SendTimeoutBoundsHungDispatch(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.SendTimeout = 20 * time.Millisecond })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	job := h.sched.jobs[h.sched.ScheduledReminders()[0].JobID]
	res := h.sched.sendToRecipients(context.Background(), job, &course.Summary{ID: "A"}, func(ctx context.Context, _ course.Enrollee) error {
		<-release
		return nil
	})

	assert.Equal(t, reminder.SendResult{FailureCount: 1}, res)
}

func TestCancelReminder(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	jobID, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	assert.Equal(t, 0, h.sched.CancelReminder("nope"))
	assert.Equal(t, 1, h.sched.CancelReminder(jobID))
	assert.Equal(t, 0, h.sched.CancelReminder(jobID))
	assert.Empty(t, h.sched.ScheduledReminders())

	h.timers.fireAll(true)
	assert.Empty(t, h.sender.emails())
	assert.Empty(t, h.sched.ReminderHistory(0, ""))
	assert.Equal(t, 1, h.sched.Status().Stats.TotalCancelled)
}

func TestCancelReminder_LeavesRunningJobAlone(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.SendTimeout = 5 * time.Second })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	jobID, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	h.sender.onSend = func(string) {
		close(started)
		<-release
	}
	go h.timers.fireAll(false)
	<-started

	assert.Equal(t, 0, h.sched.CancelReminder(jobID))
	assert.Equal(t, 0, h.sched.CancelReminderForCourse("A", course.TypeInPerson))
	pending := h.sched.ScheduledReminders()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Running)

	close(release)
	require.Eventually(t, func() bool { return len(h.sched.ReminderHistory(0, "")) == 1 }, 2*time.Second, 5*time.Millisecond)

	entry := h.sched.ReminderHistory(1, "")[0]
	assert.Equal(t, 1, entry.SuccessCount)
	assert.Empty(t, h.sched.ScheduledReminders())
	assert.Equal(t, 0, h.sched.Status().Stats.TotalCancelled)
}

func TestCancelReminderForCourse_RemovesOnlyThatCourse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.courses.addCourse("A", course.TypeOnlineLive, testNow.Add(48*time.Hour), paid("u1"))
	h.courses.addCourse("B", course.TypeOnlineLive, testNow.Add(48*time.Hour), paid("u2"))
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u3"))

	_, err := h.sched.ScheduleReminderForCourse(ctx, "A", course.TypeOnlineLive)
	require.NoError(t, err)
	_, err = h.sched.ScheduleCustomReminder(ctx, "A", course.TypeOnlineLive, testNow.Add(time.Hour), reminder.EmailTechCheck, "")
	require.NoError(t, err)
	_, err = h.sched.ScheduleCustomReminder(ctx, "A", course.TypeOnlineLive, testNow.Add(2*time.Hour), reminder.EmailCustom, "hi")
	require.NoError(t, err)
	keepB, err := h.sched.ScheduleReminderForCourse(ctx, "B", course.TypeOnlineLive)
	require.NoError(t, err)
	keepInPerson, err := h.sched.ScheduleReminderForCourse(ctx, "A", course.TypeInPerson)
	require.NoError(t, err)

	assert.Equal(t, 3, h.sched.CancelReminderForCourse("A", course.TypeOnlineLive))
	assert.Equal(t, 0, h.sched.CancelReminderForCourse("A", course.TypeOnlineLive))

	var remaining []string
	for _, v := range h.sched.ScheduledReminders() {
		remaining = append(remaining, v.JobID)
	}
	assert.ElementsMatch(t, []string{keepB, keepInPerson}, remaining)
}

func TestShutdown_SilencesPendingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		h.courses.addCourse(id, course.TypeInPerson, testNow.Add(48*time.Hour), paid("u-"+id))
		_, err := h.sched.ScheduleReminderForCourse(ctx, id, course.TypeInPerson)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, h.sched.Shutdown())
	assert.Equal(t, 0, h.sched.Shutdown(), "second shutdown is a no-op")
	assert.Empty(t, h.sched.ScheduledReminders())

	h.timers.fireAll(true)
	assert.Empty(t, h.sender.emails())
	assert.Empty(t, h.sched.ReminderHistory(0, ""))

	_, err := h.sched.ScheduleReminderForCourse(ctx, "A", course.TypeInPerson)
	assert.ErrorIs(t, err, ErrSchedulerShutdown)
	_, err = h.sched.ScheduleCustomReminder(ctx, "A", course.TypeInPerson, testNow.Add(time.Hour), reminder.EmailCustom, "x")
	assert.ErrorIs(t, err, ErrSchedulerShutdown)
	assert.Equal(t, 0, h.sched.ScheduleAllUpcomingReminders(ctx))
	assert.False(t, h.sched.Status().Running)
	assert.NoError(t, h.sched.Wait(ctx))
}

func TestShutdown_StopsRunningBatch(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) {
		o.SendInterval = time.Hour
		o.SendTimeout = 5 * time.Second
	})
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"), paid("u2"), paid("u3"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	h.sender.onSend = func(to string) {
		if to == "u1@example.com" {
			close(started)
			<-release
		}
	}
	go h.timers.fireAll(false)
	<-started

	h.sched.Shutdown()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))

	history := h.sched.ReminderHistory(0, "")
	require.Len(t, history, 1)
	entry := history[0]
	assert.Equal(t, 3, entry.RecipientCount)
	assert.Equal(t, entry.RecipientCount, entry.SuccessCount+entry.FailureCount+entry.SkippedCount)
	assert.GreaterOrEqual(t, entry.FailureCount, 2, "recipients not reached count as failures")

	// Only the dispatch that was already in progress may complete.
	require.Eventually(t, func() bool { return len(h.sender.emails()) == 1 }, 2*time.Second, 5*time.Millisecond)
	for _, e := range h.sender.emails() {
		assert.Equal(t, "u1@example.com", e.to)
	}
}

func TestExecution_PacesConsecutiveSends(t *testing.T) {
	const interval = 20 * time.Millisecond
	h := newHarness(t, func(o *SchedulerOptions) { o.SendInterval = interval })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"), paid("u2"), paid("u3"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	begin := time.Now()
	h.timers.fireAll(false)

	sent := h.sender.emails()
	require.Len(t, sent, 3)
	for i, e := range sent {
		assert.GreaterOrEqual(t, e.at.Sub(begin), time.Duration(i)*interval, "send %d", i)
	}
}

func TestExecution_SkippedRecipientKeepsRateSlot(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.SendInterval = time.Hour })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"), paid("u2"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	h.courses.setStatus("u1", "A", course.EnrollmentCancelled)
	h.courses.setStatus("u2", "A", course.EnrollmentCancelled)
	h.timers.fireAll(false)

	assert.Equal(t, 2, h.sched.ReminderHistory(1, "")[0].SkippedCount)
	assert.InDelta(t, 1.0, h.sched.limiter.Tokens(), 0.001)

	// A real send takes the slot.
	h.courses.addCourse("B", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u3"))
	_, err = h.sched.ScheduleReminderForCourse(context.Background(), "B", course.TypeInPerson)
	require.NoError(t, err)
	h.timers.fireAll(false)

	require.Len(t, h.sender.emails(), 1)
	assert.Less(t, h.sched.limiter.Tokens(), 0.5)
}

func TestScheduleAllUpcomingReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inWindow := h.courses.addCourse("A", course.TypeInPerson, testNow.Add(5*24*time.Hour), paid("u1"))
	noUsers := h.courses.addCourse("B", course.TypeInPerson, testNow.Add(6*24*time.Hour))
	tooSoon := h.courses.addCourse("C", course.TypeOnlineLive, testNow.Add(12*time.Hour), paid("u2"))
	online := h.courses.addCourse("D", course.TypeOnlineLive, testNow.Add(20*24*time.Hour), paid("u3"))
	tooLate := h.courses.addCourse("E", course.TypeOnlineLive, testNow.AddDate(0, 2, 0), paid("u4"))
	h.courses.upcoming[course.TypeInPerson] = []*course.Summary{inWindow, noUsers}
	h.courses.upcoming[course.TypeOnlineLive] = []*course.Summary{tooSoon, online, tooLate}

	assert.Equal(t, 2, h.sched.ScheduleAllUpcomingReminders(ctx))

	var courses []string
	for _, v := range h.sched.ScheduledReminders() {
		courses = append(courses, v.CourseID)
	}
	assert.Equal(t, []string{"A", "D"}, courses)
}

func TestScheduleAllUpcomingReminders_StoreErrorIsNotFatal(t *testing.T) {
	h := newHarness(t)
	online := h.courses.addCourse("D", course.TypeOnlineLive, testNow.Add(3*24*time.Hour), paid("u3"))
	h.courses.upcomingErr[course.TypeInPerson] = errBoom
	h.courses.upcoming[course.TypeOnlineLive] = []*course.Summary{online}

	assert.Equal(t, 1, h.sched.ScheduleAllUpcomingReminders(context.Background()))
}

func TestHistoryIsBounded(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.HistoryCapacity = 3 })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(30*24*time.Hour), paid("u1"))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeInPerson, testNow.Add(time.Duration(i+1)*time.Hour), reminder.EmailPreparation, "")
		require.NoError(t, err)
		ids = append(ids, id)
		h.now = h.now.Add(time.Millisecond)
		h.timers.fireAll(false)
		assert.LessOrEqual(t, len(h.sched.ReminderHistory(0, "")), 3)
	}

	history := h.sched.ReminderHistory(0, "")
	require.Len(t, history, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{history[0].JobID, history[1].JobID, history[2].JobID})
}

func TestReminderHistory_FilterAndLimit(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(30*24*time.Hour), paid("u1"))

	for i := 0; i < 4; i++ {
		h.courses.summaryErr = nil
		_, err := h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeInPerson, testNow.Add(time.Hour), reminder.EmailPreparation, "")
		require.NoError(t, err)
		if i%2 == 1 {
			h.courses.summaryErr = errBoom
		}
		h.now = h.now.Add(time.Second)
		h.timers.fireAll(false)
	}
	h.courses.summaryErr = nil

	all := h.sched.ReminderHistory(0, "")
	require.Len(t, all, 4)
	failed := h.sched.ReminderHistory(0, reminder.JobStatusFailed)
	require.Len(t, failed, 2)
	for _, e := range failed {
		assert.Equal(t, reminder.JobStatusFailed, e.Status)
	}
	assert.Len(t, h.sched.ReminderHistory(1, reminder.JobStatusCompleted), 1)
	assert.Equal(t, all, h.sched.ReminderHistory(0, ""), "filtering does not reorder stored history")
}

func TestCleanupOldData(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.HistoryCapacity = 2 })
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	jobID, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	// The timer never fires; two days later cleanup purges the stale job.
	h.now = testNow.Add(72 * time.Hour)
	res := h.sched.CleanupOldData()
	assert.Equal(t, 1, res.JobsPurged)
	assert.Empty(t, h.sched.ScheduledReminders())
	assert.Equal(t, h.now, h.sched.Status().Stats.LastCleanup)

	again := h.sched.CleanupOldData()
	assert.Equal(t, CleanupResult{}, again)
	assert.NotEmpty(t, jobID)
}

func TestCleanupOldData_TrimsHistoryToNewest(t *testing.T) {
	h := newHarness(t, func(o *SchedulerOptions) { o.HistoryCapacity = 2 })
	entry := func(id string, age time.Duration) reminder.HistoryEntry {
		return reminder.HistoryEntry{JobID: id, ExecutedAt: testNow.Add(-age), Status: reminder.JobStatusCompleted}
	}
	h.sched.history = []reminder.HistoryEntry{
		entry("hour-old", time.Hour),
		entry("oldest", 3*time.Hour),
		entry("newest", 0),
		entry("two-hours-old", 2*time.Hour),
	}

	res := h.sched.CleanupOldData()

	assert.Equal(t, 2, res.HistoryTrimmed)
	history := h.sched.ReminderHistory(0, "")
	require.Len(t, history, 2)
	assert.Equal(t, []string{"newest", "hour-old"}, []string{history[0].JobID, history[1].JobID})
}

func TestScheduledReminders_DerivedFields(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(30*24*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeInPerson, testNow.Add(3*time.Hour), reminder.EmailPreparation, "")
	require.NoError(t, err)
	_, err = h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeInPerson, testNow.Add(3*24*time.Hour), reminder.EmailPreparation, "")
	require.NoError(t, err)

	views := h.sched.ScheduledReminders()
	require.Len(t, views, 2)
	assert.True(t, views[0].IsToday)
	assert.False(t, views[0].IsOverdue)
	assert.Equal(t, 1, views[0].DaysFromNow)
	assert.False(t, views[1].IsToday)
	assert.Equal(t, 3, views[1].DaysFromNow)

	h.now = testNow.Add(4 * time.Hour)
	views = h.sched.ScheduledReminders()
	assert.True(t, views[0].IsOverdue)
}

func TestStatisticsAndHealth(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeOnlineLive, testNow.Add(48*time.Hour), paid("u1"), paid("u2"))
	h.sender.failFor["u2@example.com"] = errBoom

	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeOnlineLive)
	require.NoError(t, err)
	_, err = h.sched.ScheduleCustomReminder(context.Background(), "A", course.TypeOnlineLive, testNow.Add(30*time.Hour), reminder.EmailTechCheck, "")
	require.NoError(t, err)

	stats := h.sched.DetailedStatistics()
	assert.Equal(t, 1, stats.PendingByEmailType[reminder.EmailCourseStarting])
	assert.Equal(t, 1, stats.PendingByEmailType[reminder.EmailTechCheck])
	assert.Equal(t, 2, stats.PendingByCourseType[course.TypeOnlineLive])
	assert.Equal(t, 4, stats.PendingRecipients)
	require.NotNil(t, stats.NextFireAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *stats.NextFireAt)

	report := h.sched.HealthCheck()
	assert.True(t, report.Healthy)
	assert.Equal(t, HealthHealthy, report.Status)

	h.timers.fireAll(false)
	stats = h.sched.DetailedStatistics()
	assert.Equal(t, 2, stats.HistoryByStatus[reminder.JobStatusCompleted])
	assert.Equal(t, 50.0, stats.SuccessRate)
	assert.Equal(t, 2.0, stats.AverageRecipients)
	assert.True(t, h.sched.HealthCheck().Healthy)

	h.sched.Shutdown()
	report = h.sched.HealthCheck()
	assert.False(t, report.Healthy)
	assert.Equal(t, HealthUnhealthy, report.Status)
}

func TestHealthCheck_FlagsOverdueJobs(t *testing.T) {
	h := newHarness(t)
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), paid("u1"))
	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)

	h.now = testNow.Add(25 * time.Hour)
	report := h.sched.HealthCheck()
	assert.False(t, report.Healthy)
	assert.Equal(t, HealthDegraded, report.Status)
	assert.Equal(t, []string{"1 pending job is overdue"}, report.Issues)
}

func TestAccountingIdentity(t *testing.T) {
	h := newHarness(t)
	users := []course.Enrollee{paid("a"), paid("b"), registered("c"), paid("d"), paid("e")}
	h.courses.addCourse("A", course.TypeInPerson, testNow.Add(48*time.Hour), users...)
	h.sender.failFor["b@example.com"] = errBoom
	h.courses.setStatus("d", "A", course.EnrollmentCompleted)

	_, err := h.sched.ScheduleReminderForCourse(context.Background(), "A", course.TypeInPerson)
	require.NoError(t, err)
	h.timers.fireAll(false)

	for _, e := range h.sched.ReminderHistory(0, "") {
		assert.Equal(t, e.RecipientCount, e.SuccessCount+e.FailureCount+e.SkippedCount)
	}
}
