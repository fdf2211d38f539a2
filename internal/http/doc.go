// Package httpapp provides the HTTP server for the forum API.
//
// All routes live under /api. Session state is a signed JWT delivered
// in an HTTP-only cookie; the server keeps no session table.
//
//	POST /api/users/register  {username, password}  201 user + cookie
//	POST /api/users/login     {username, password}  200 user + cookie
//	POST /api/users/logout                          200, expires cookie
//	GET  /api/users/me                              200 user | 401
//	GET  /api/posts?sort=date|votes                 200 [post...]
//	POST /api/posts           {title, content}      201 post   (auth)
//	GET  /api/posts/{id}                            200 post | 404
//	POST /api/posts/{id}/reply  {content}           201 post   (auth)
//	POST /api/posts/{id}/upvote                     200 post   (auth)
//
// Upvoting is a toggle: the first call adds the caller to the post's
// voter set, the second removes them. Replies append to the post and
// are never edited or deleted.
//
// Malformed input yields 400 {"errors": [...]}; every other domain
// error yields {"message": "..."} with the matching status code.
package httpapp
