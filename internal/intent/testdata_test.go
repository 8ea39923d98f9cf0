package intent

const lightCatalog = `
intents:
  turn_on_light:
    action: lights.on
    exemplars:
      - turn on the light
      - phrase: turn on the kitchen light
        pattern: 'turn on the (?P<room>\w+) light'
  time:
    action: clock.time
    exemplars:
      - what time is it
      - what's the current time
actions:
  lights.on:
    response: "Turning on the light."
    hub: [VERTEX, LAMP, ON]
  clock.time:
    builtin: clock.time
`
