package dynamo

import (
	"fmt"
	"strings"

	"github.com/Suraj08832/collabstudy/models"
)

// Single table layout, one partition per room id:
//
//	PK=ROOM#<roomId> SK=EPOCH#<epoch>                  room incarnation
//	PK=ROOM#<roomId> SK=EVENT#<epoch>#<%020d sequence>  archived event
//	PK=ROOM#<roomId> SK=STATS                           cumulative counters
const (
	roomPrefix  = "ROOM#"
	epochPrefix = "EPOCH#"
	eventPrefix = "EVENT#"
	statsSK     = "STATS"
)

func roomPK(roomId string) string {
	return roomPrefix + roomId
}

func epochSK(epoch string) string {
	return epochPrefix + epoch
}

func eventSKPrefix(epoch string) string {
	return eventPrefix + epoch + "#"
}

// Zero padding keeps lexical SK order equal to sequence order.
func eventSK(epoch string, sequence uint64) string {
	return fmt.Sprintf("%s%020d", eventSKPrefix(epoch), sequence)
}

type dynamoEpoch struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	RoomId       string `dynamodbav:"RoomId"`
	Epoch        string `dynamodbav:"Epoch"`
	Opened       int64  `dynamodbav:"Opened"`
	Closed       int64  `dynamodbav:"Closed"`
	LastSequence uint64 `dynamodbav:"LastSequence"`
}

func epochToDynamo(e models.RoomEpoch) dynamoEpoch {
	return dynamoEpoch{
		PK:           roomPK(e.RoomId),
		SK:           epochSK(e.Epoch),
		RoomId:       e.RoomId,
		Epoch:        e.Epoch,
		Opened:       e.Opened,
		Closed:       e.Closed,
		LastSequence: e.LastSequence,
	}
}

func epochFromDynamo(de dynamoEpoch) models.RoomEpoch {
	return models.RoomEpoch{
		RoomId:       de.RoomId,
		Epoch:        de.Epoch,
		Opened:       de.Opened,
		Closed:       de.Closed,
		LastSequence: de.LastSequence,
	}
}

type dynamoEvent struct {
	PK       string              `dynamodbav:"PK"`
	SK       string              `dynamodbav:"SK"`
	Epoch    string              `dynamodbav:"Epoch"`
	Sequence uint64              `dynamodbav:"Sequence"`
	Type     string              `dynamodbav:"Type"`
	Event    models.SessionEvent `dynamodbav:"Event"`
}

func eventToDynamo(ev models.SessionEvent) dynamoEvent {
	return dynamoEvent{
		PK:       roomPK(ev.RoomId),
		SK:       eventSK(ev.Epoch, ev.Sequence),
		Epoch:    ev.Epoch,
		Sequence: ev.Sequence,
		Type:     string(ev.Type),
		Event:    ev,
	}
}

func eventFromDynamo(de dynamoEvent) models.SessionEvent {
	ev := de.Event
	// Items written by older code may miss the nested copy of the keys.
	if ev.RoomId == "" {
		ev.RoomId = strings.TrimPrefix(de.PK, roomPrefix)
	}
	if ev.Epoch == "" {
		ev.Epoch = de.Epoch
	}
	if ev.Sequence == 0 {
		ev.Sequence = de.Sequence
	}
	return ev
}

type dynamoStats struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	Draws            int    `dynamodbav:"Draws"`
	Clears           int    `dynamodbav:"Clears"`
	PlaybackCommands int    `dynamodbav:"PlaybackCommands"`
}

func statsFromDynamo(ds dynamoStats) models.RoomStats {
	return models.RoomStats{
		RoomId:           strings.TrimPrefix(ds.PK, roomPrefix),
		Draws:            ds.Draws,
		Clears:           ds.Clears,
		PlaybackCommands: ds.PlaybackCommands,
	}
}
