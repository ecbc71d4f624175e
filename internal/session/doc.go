// Package session is the consumer surface of actorsync.
//
// A Session binds one actor (type, id) to one read request and exposes the
// engine's snapshot, pending, failed and recovered lists. A Registry hands
// out one Session per bound actor and rejects a second binding that
// disagrees with the first.
//
// Typed access goes through Kind and Decode:
//
//	add := session.Kind[AddGoalRequest, AddGoalResponse]{Name: "AddGoal"}
//	_, err := add.Invoke(ctx, s, AddGoalRequest{Goal: "buy milk"}, nil)
//	state, ok, err := session.Decode[ListGoalsResponse](s)
package session
