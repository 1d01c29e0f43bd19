package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// courseHistoryLimit caps the reminderHistory array kept on each course.
const courseHistoryLimit = 50

var courseCollections = map[course.Type]string{
	course.TypeInPerson:   "in_person_courses",
	course.TypeOnlineLive: "online_live_courses",
}

type courseDocument struct {
	ID        interface{} `bson:"_id"`
	Title     string      `bson:"title"`
	Code      *string     `bson:"courseCode,omitempty"`
	StartDate *time.Time  `bson:"startDate,omitempty"`
	Status    string      `bson:"status"`
}

type enrollmentDocument struct {
	UserID interface{} `bson:"userId"`
	Status string      `bson:"status"`
}

type userDocument struct {
	ID    interface{} `bson:"_id"`
	Name  string      `bson:"name"`
	Email string      `bson:"email"`
}

type historyDocument struct {
	JobID          string    `bson:"jobId"`
	EmailType      string    `bson:"emailType"`
	FireAt         time.Time `bson:"fireAt"`
	ExecutedAt     time.Time `bson:"executedAt"`
	RecipientCount int       `bson:"recipientCount"`
	SuccessCount   int       `bson:"successCount"`
	FailureCount   int       `bson:"failureCount"`
	SkippedCount   int       `bson:"skippedCount"`
	Status         string    `bson:"status"`
	CustomMessage  string    `bson:"customMessage,omitempty"`
	Error          string    `bson:"error,omitempty"`
}

// CourseRepository reads courses and enrollments from MongoDB and keeps the
// per-course reminder log on the course document.
type CourseRepository struct {
	db          *mongo.Database
	enrollments *mongo.Collection
	users       *mongo.Collection
}

func NewCourseRepository(db *mongo.Database) *CourseRepository {
	return &CourseRepository{
		db:          db,
		enrollments: db.Collection("enrollments"),
		users:       db.Collection("users"),
	}
}

func (r *CourseRepository) courses(courseType course.Type) (*mongo.Collection, error) {
	name, ok := courseCollections[courseType]
	if !ok {
		return nil, fmt.Errorf("no course collection for type %q", courseType)
	}
	return r.db.Collection(name), nil
}

func (r *CourseRepository) GetSummary(ctx context.Context, courseID string, courseType course.Type) (*course.Summary, error) {
	coll, err := r.courses(courseType)
	if err != nil {
		return nil, err
	}
	var doc courseDocument
	err = coll.FindOne(ctx, bson.M{"_id": idFilter(courseID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, course.ErrCourseNotFound
		}
		return nil, fmt.Errorf("error getting course summary: %w", err)
	}
	return doc.toSummary(courseType), nil
}

func (r *CourseRepository) ListEnrolledUsers(ctx context.Context, courseID string, courseType course.Type) ([]course.Enrollee, error) {
	filter := bson.M{
		"courseId":   idFilter(courseID),
		"courseType": string(courseType),
		"status":     bson.M{"$in": eligibleStatuses()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.enrollments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing enrollments: %w", err)
	}
	var enrollments []enrollmentDocument
	if err := cursor.All(ctx, &enrollments); err != nil {
		return nil, fmt.Errorf("error decoding enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return []course.Enrollee{}, nil
	}

	userIDs := make([]interface{}, 0, len(enrollments))
	for _, e := range enrollments {
		userIDs = append(userIDs, e.UserID)
	}
	cursor, err = r.users.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("error listing enrolled users: %w", err)
	}
	var users []userDocument
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding enrolled users: %w", err)
	}
	byID := make(map[string]userDocument, len(users))
	for _, u := range users {
		byID[idString(u.ID)] = u
	}

	enrollees := make([]course.Enrollee, 0, len(enrollments))
	for _, e := range enrollments {
		u, ok := byID[idString(e.UserID)]
		if !ok {
			continue // Enrollment of a deleted user
		}
		enrollees = append(enrollees, course.Enrollee{
			UserID: idString(u.ID),
			Name:   u.Name,
			Email:  u.Email,
			Status: course.EnrollmentStatus(e.Status),
		})
	}
	return enrollees, nil
}

func (r *CourseRepository) GetEnrollmentStatus(ctx context.Context, userID, courseID string, courseType course.Type) (course.EnrollmentStatus, error) {
	filter := bson.M{
		"userId":     idFilter(userID),
		"courseId":   idFilter(courseID),
		"courseType": string(courseType),
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	var doc enrollmentDocument
	err := r.enrollments.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", course.ErrEnrollmentNotFound
		}
		return "", fmt.Errorf("error getting enrollment status: %w", err)
	}
	return course.EnrollmentStatus(doc.Status), nil
}

func (r *CourseRepository) ListUpcoming(ctx context.Context, courseType course.Type, from, to time.Time, statuses []course.Status) ([]*course.Summary, error) {
	coll, err := r.courses(courseType)
	if err != nil {
		return nil, err
	}
	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}
	filter := bson.M{
		"startDate": bson.M{"$gt": from, "$lte": to},
		"status":    bson.M{"$in": wanted},
	}
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startDate", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing upcoming courses: %w", err)
	}
	var docs []courseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding upcoming courses: %w", err)
	}
	summaries := make([]*course.Summary, 0, len(docs))
	for i := range docs {
		summaries = append(summaries, docs[i].toSummary(courseType))
	}
	return summaries, nil
}

// AppendReminderHistory pushes the entry onto the course document, keeping
// only the newest courseHistoryLimit entries.
func (r *CourseRepository) AppendReminderHistory(ctx context.Context, courseID string, courseType course.Type, entry reminder.HistoryEntry) error {
	coll, err := r.courses(courseType)
	if err != nil {
		return err
	}
	update := bson.M{"$push": bson.M{"reminderHistory": bson.M{
		"$each":  []historyDocument{newHistoryDocument(entry)},
		"$slice": -courseHistoryLimit,
	}}}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": idFilter(courseID)}, update)
	if err != nil {
		return fmt.Errorf("error appending reminder history: %w", err)
	}
	if res.MatchedCount == 0 {
		return course.ErrCourseNotFound
	}
	return nil
}

func (d *courseDocument) toSummary(courseType course.Type) *course.Summary {
	s := &course.Summary{
		ID:     idString(d.ID),
		Type:   courseType,
		Title:  d.Title,
		Status: course.Status(d.Status),
	}
	if d.Code != nil {
		s.Code.String, s.Code.Valid = *d.Code, true
	}
	if d.StartDate != nil && !d.StartDate.IsZero() {
		s.StartDate.Time, s.StartDate.Valid = *d.StartDate, true
	}
	return s
}

func newHistoryDocument(e reminder.HistoryEntry) historyDocument {
	return historyDocument{
		JobID:          e.JobID,
		EmailType:      string(e.EmailType),
		FireAt:         e.FireAt,
		ExecutedAt:     e.ExecutedAt,
		RecipientCount: e.RecipientCount,
		SuccessCount:   e.SuccessCount,
		FailureCount:   e.FailureCount,
		SkippedCount:   e.SkippedCount,
		Status:         string(e.Status),
		CustomMessage:  e.CustomMessage,
		Error:          e.Error,
	}
}

// idFilter matches both ObjectID and plain string ids, since documents
// imported from older systems use either.
func idFilter(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{oid, id}}
	}
	return id
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func eligibleStatuses() []string {
	statuses := course.EligibleEnrollmentStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
