package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var orderColumns = []string{
	"id", "event_id", "status", "source", "currency", "customer_name", "customer_phone",
	"customer_address", "subtotal", "delivery_charge", "total_price", "created_at", "updated_at",
}

var itemColumns = []string{
	"product_id", "quantity", "attributes", "price", "discount", "selling_price", "subtotal", "total",
}

func sampleEvent(now time.Time) events.OrderPlacedEvent {
	return events.OrderPlacedEvent{
		EventID:        "evt-1",
		EventType:      events.OrderPlacedType,
		OrderID:        "order-1",
		Status:         models.OrderStatusPending,
		Source:         "cart",
		Currency:       "BDT",
		Subtotal:       267,
		DeliveryCharge: 60,
		TotalPrice:     327,
		Address:        models.Address{Name: "Rahim", Phone: "01712345678", Address: "Dhanmondi"},
		Items: []models.OrderItem{
			{
				ProductID:    "p1",
				Quantity:     3,
				Attributes:   []models.AttributePair{{Title: "Size", Value: "L"}},
				Price:        99,
				Discount:     10,
				SellingPrice: 89.1,
				Subtotal:     297,
				Total:        267,
			},
			{ProductID: "p2", Quantity: 1, Price: 0, SellingPrice: 0},
		},
		CreatedAt: now,
	}
}

func TestRepositoryRecord_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := sampleEvent(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WithArgs("order-1", "evt-1", "pending", "cart", "BDT", "Rahim", "01712345678", "Dhanmondi", 267, 60, 327, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WithArgs("order-1", 0, "p1", 3, []byte(`[{"title":"Size","value":"L"}]`), 99.0, 10.0, 89.1, 297.0, 267.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WithArgs("order-1", 1, "p2", 1, []byte(`[]`), 0.0, 0.0, 0.0, 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := NewRepository(db).Record(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRecord_DuplicateIsSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ev := sampleEvent(time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	inserted, err := NewRepository(db).Record(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRecord_UnknownStatusStoredAsPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ev := sampleEvent(time.Now().UTC())
	ev.Status = "processing"
	ev.Items = nil

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = NewRepository(db).Record(context.Background(), ev)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRecord_ItemInsertErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ev := sampleEvent(time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err = NewRepository(db).Record(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order_item")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGet_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("order-1", "evt-1", "pending", "cart", "BDT", "Rahim", "01712345678", "Dhanmondi", 267, 60, 327, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(selectItemsSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow("p1", 3, []byte(`[{"title":"Size","value":"L"}]`), 99.0, 10.0, 89.1, 297.0, 267.0))

	o, err := NewRepository(db).Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Rahim", o.Address.Name)
	assert.Equal(t, 327, o.TotalPrice)
	require.Len(t, o.Items, 1)
	assert.Equal(t, []models.AttributePair{{Title: "Size", Value: "L"}}, o.Items[0].Attributes)
	assert.Equal(t, 267.0, o.Items[0].Total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err = NewRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryList(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		filter ListFilter
		query  string
		args   []interface{}
	}{
		{name: "all with defaults", filter: ListFilter{}, query: listOrdersSQL, args: []interface{}{DefaultListLimit, 0}},
		{name: "by status", filter: ListFilter{Status: "shipped", Limit: 10, Offset: 20}, query: listOrdersByStatusSQL, args: []interface{}{"shipped", 10, 20}},
		{name: "limit capped", filter: ListFilter{Limit: 10000, Offset: -3}, query: listOrdersSQL, args: []interface{}{MaxListLimit, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			args := make([]driver.Value, len(tt.args))
			for i, a := range tt.args {
				args[i] = a
			}
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs(args...).
				WillReturnRows(sqlmock.NewRows(orderColumns).
					AddRow("order-2", "evt-2", "shipped", "buy_now", "BDT", "Karim", "01812345678", "Mirpur", 500, 0, 500, now, now))

			orders, err := NewRepository(db).List(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.Equal(t, "order-2", orders[0].ID)
			assert.Nil(t, orders[0].Items)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepositoryUpdateStatus_Allowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStatusSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("confirmed", "order-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("order-1", "evt-1", "confirmed", "cart", "BDT", "Rahim", "01712345678", "Dhanmondi", 267, 60, 327, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(selectItemsSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(itemColumns))

	o, err := NewRepository(db).UpdateStatus(context.Background(), "order-1", "confirmed")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", o.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStatus_RejectedTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStatusSQL)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))
	mock.ExpectRollback()

	_, err = NewRepository(db).UpdateStatus(context.Background(), "order-1", "cancelled")
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "delivered", transitionErr.From)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStatusSQL)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, err = NewRepository(db).UpdateStatus(context.Background(), "nope", "confirmed")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{"pending", "confirmed", true},
		{"pending", "cancelled", true},
		{"pending", "shipped", false},
		{"confirmed", "shipped", true},
		{"confirmed", "cancelled", true},
		{"shipped", "delivered", true},
		{"shipped", "cancelled", false},
		{"delivered", "pending", false},
		{"cancelled", "confirmed", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	assert.ErrorIs(t, CheckTransition("pending", "lost"), ErrInvalidStatus)
}
